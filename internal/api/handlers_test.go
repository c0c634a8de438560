// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/directory"
	"github.com/tomtom215/fleetrollout/internal/dispatch"
	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/rollout"
	"github.com/tomtom215/fleetrollout/internal/store"
	"github.com/tomtom215/fleetrollout/internal/websocket"
)

const testOrg = "org-1"

// gatedDispatcher completes every command once gate is closed.
type gatedDispatcher struct {
	gate chan struct{}
}

func (g *gatedDispatcher) Dispatch(ctx context.Context, cmd dispatch.Command) (*models.CommandResult, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.CommandResult{Status: models.CommandCompleted, Attempt: cmd.Attempt, DurationMs: 1}, nil
}

type apiHarness struct {
	server    *httptest.Server
	engine    *rollout.Engine
	dir       *directory.Directory
	auditLog  *audit.MemoryStore
	hub       *websocket.Hub
	gate      chan struct{}
	readiness map[string]ReadinessCheck
}

type harnessOption func(*HandlerConfig, *ChiMiddlewareConfig)

func newAPIHarness(t *testing.T, opts ...harnessOption) *apiHarness {
	t.Helper()

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	auditStore := audit.NewMemoryStore(1000)
	auditLogger := audit.NewLogger(auditStore, nil, nil)
	t.Cleanup(func() { _ = auditLogger.Close() })

	sup := suture.NewSimple("api-test")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	h := &apiHarness{
		dir:      directory.New(st.DB()),
		auditLog: auditStore,
		hub:      websocket.NewHub(),
		gate:     make(chan struct{}),
	}
	h.engine = rollout.New(rollout.Config{
		MaxConcurrency:      4,
		DispatchTimeout:     5 * time.Second,
		DelayUnit:           time.Millisecond,
		ControlPollInterval: 20 * time.Millisecond,
		LeaseTTL:            time.Second,
		MinSuccessPercent:   100,
		HolderID:            "api-test",
	}, st, h.dir, &gatedDispatcher{gate: h.gate}, auditLogger, sup)

	handlerCfg := HandlerConfig{
		Engine:    h.engine,
		Inventory: h.dir,
		Audit:     auditStore,
		Hub:       h.hub,
		Heartbeat: time.Hour,
		Version:   "test",
		Readiness: map[string]ReadinessCheck{
			"store": func(context.Context) error { return nil },
		},
	}
	mwCfg := DefaultChiMiddlewareConfig()
	mwCfg.RateLimitDisabled = true
	for _, opt := range opts {
		opt(&handlerCfg, mwCfg)
	}

	h.server = httptest.NewServer(NewRouter(NewHandler(handlerCfg), NewChiMiddleware(mwCfg)))
	t.Cleanup(h.server.Close)
	return h
}

// release lets every held dispatch complete.
func (h *apiHarness) release() {
	select {
	case <-h.gate:
	default:
		close(h.gate)
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}, headers ...string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal(body) error = %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode envelope: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("Unmarshal(data=%s) error = %v", env.Data, err)
	}
	return v
}

func expectError(t *testing.T, status int, env envelope, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Errorf("status = %d, want %d", status, wantStatus)
	}
	if env.Success {
		t.Error("success = true, want false")
	}
	if env.Error == nil {
		t.Fatalf("error = nil, want code %s", wantCode)
	}
	if env.Error.Code != wantCode {
		t.Errorf("error.code = %q, want %q (message %q)", env.Error.Code, wantCode, env.Error.Message)
	}
}

func (h *apiHarness) putDevices(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("dev-%02d", i)
		status, env := h.do(t, http.MethodPut, "/api/v1/inventory/devices/"+ids[i], DeviceRequest{
			OrgID:  testOrg,
			Status: models.DeviceOnline,
		})
		if status != http.StatusOK {
			t.Fatalf("PUT device %s status = %d, error = %+v", ids[i], status, env.Error)
		}
	}
	return ids
}

func deploymentBody(deviceIDs ...string) map[string]interface{} {
	return map[string]interface{}{
		"orgId":        testOrg,
		"name":         "agent 2.4",
		"type":         "software_install",
		"payload":      map[string]string{"package": "agent", "version": "2.4.0"},
		"targetType":   "devices",
		"targetConfig": map[string]interface{}{"deviceIds": deviceIDs},
	}
}

func (h *apiHarness) createDeployment(t *testing.T, body interface{}, headers ...string) *models.Deployment {
	t.Helper()
	status, env := h.do(t, http.MethodPost, "/api/v1/deployments", body, headers...)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, error = %+v", status, env.Error)
	}
	d := decodeData[models.Deployment](t, env)
	return &d
}

func (h *apiHarness) waitStatus(t *testing.T, id string, want models.DeploymentStatus) *models.Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, env := h.do(t, http.MethodGet, "/api/v1/deployments/"+id+"/progress", nil)
		if status != http.StatusOK {
			t.Fatalf("progress status = %d, error = %+v", status, env.Error)
		}
		p := decodeData[models.Progress](t, env)
		if p.Status == want {
			return &p
		}
		if time.Now().After(deadline) {
			t.Fatalf("deployment status = %q, want %q", p.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	ids := h.putDevices(t, 3)

	d := h.createDeployment(t, deploymentBody(ids...))
	if d.Status != models.DeploymentDraft {
		t.Errorf("created status = %q, want draft", d.Status)
	}

	status, env := h.do(t, http.MethodGet, "/api/v1/deployments/"+d.ID, nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("get status = %d, success = %v", status, env.Success)
	}
	if env.Meta == nil || env.Meta.RequestID == "" {
		t.Error("meta.request_id should be set")
	}

	status, env = h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/initialize", nil)
	if status != http.StatusOK {
		t.Fatalf("initialize status = %d, error = %+v", status, env.Error)
	}
	init := decodeData[rollout.InitializeResult](t, env)
	if init.DeviceCount != 3 || init.EmptyTargetSet {
		t.Errorf("initialize = %+v, want 3 devices", init)
	}

	status, env = h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/start", nil)
	if status != http.StatusOK {
		t.Fatalf("start status = %d, error = %+v", status, env.Error)
	}
	started := decodeData[models.Deployment](t, env)
	if started.Status != models.DeploymentDownloading {
		t.Errorf("started status = %q, want downloading", started.Status)
	}

	h.release()
	p := h.waitStatus(t, d.ID, models.DeploymentCompleted)
	if p.ByStatus.Completed != 3 || p.PercentComplete != 100 {
		t.Errorf("progress = %+v, want 3 completed at 100%%", p)
	}

	status, env = h.do(t, http.MethodGet, "/api/v1/deployments/"+d.ID+"/devices", nil)
	if status != http.StatusOK {
		t.Fatalf("devices status = %d", status)
	}
	items := decodeData[[]models.DeviceWorkItem](t, env)
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	for _, it := range items {
		if it.Status != models.ItemCompleted {
			t.Errorf("item %s status = %q, want completed", it.DeviceID, it.Status)
		}
	}
	if env.Meta == nil || env.Meta.Pagination == nil || env.Meta.Pagination.Count != 3 {
		t.Errorf("pagination = %+v, want count 3", env.Meta)
	}
}

func TestCreateDeployment_Validation(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	missingOrg := deploymentBody("dev-00")
	delete(missingOrg, "orgId")

	staggeredNoSettings := deploymentBody("dev-00")
	staggeredNoSettings["rolloutConfig"] = map[string]interface{}{"type": "staggered"}

	wrongShape := deploymentBody("dev-00")
	wrongShape["targetType"] = "groups"

	badBatch := deploymentBody("dev-00")
	badBatch["rolloutConfig"] = map[string]interface{}{
		"type":      "staggered",
		"staggered": map[string]interface{}{"batchSize": "150%"},
	}

	tests := []struct {
		name     string
		body     interface{}
		wantCode string
	}{
		{"missing orgId", missingOrg, ErrCodeValidation},
		{"staggered without settings", staggeredNoSettings, ErrCodeValidation},
		{"target shape mismatch", wrongShape, ErrCodeValidation},
		{"batch percentage out of range", badBatch, ErrCodeValidation},
		{"unknown field", `{"orgId":"org-1","bogus":true}`, ErrCodeBadRequest},
		{"malformed JSON", `{"orgId":`, ErrCodeBadRequest},
		{"empty body", "", ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := h.do(t, http.MethodPost, "/api/v1/deployments", tt.body)
			expectError(t, status, env, http.StatusBadRequest, tt.wantCode)
		})
	}
}

func TestListDeployments(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	status, env := h.do(t, http.MethodGet, "/api/v1/deployments", nil)
	expectError(t, status, env, http.StatusBadRequest, ErrCodeValidation)

	h.createDeployment(t, deploymentBody("dev-00"))
	h.createDeployment(t, deploymentBody("dev-01"))

	status, env = h.do(t, http.MethodGet, "/api/v1/deployments?orgId="+testOrg, nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if got := decodeData[[]models.Deployment](t, env); len(got) != 2 {
		t.Errorf("len(deployments) = %d, want 2", len(got))
	}

	status, env = h.do(t, http.MethodGet, "/api/v1/deployments?orgId=other-org", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if got := decodeData[[]models.Deployment](t, env); len(got) != 0 {
		t.Errorf("len(deployments) for other org = %d, want 0", len(got))
	}
}

func TestUpdateDeployment(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	h.putDevices(t, 1)
	d := h.createDeployment(t, deploymentBody("dev-00"))

	body := deploymentBody("dev-00")
	body["name"] = "agent 2.5"
	status, env := h.do(t, http.MethodPut, "/api/v1/deployments/"+d.ID, body)
	if status != http.StatusOK {
		t.Fatalf("update status = %d, error = %+v", status, env.Error)
	}
	if got := decodeData[models.Deployment](t, env); got.Name != "agent 2.5" {
		t.Errorf("name = %q, want agent 2.5", got.Name)
	}

	if status, env := h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/initialize", nil); status != http.StatusOK {
		t.Fatalf("initialize status = %d, error = %+v", status, env.Error)
	}
	status, env = h.do(t, http.MethodPut, "/api/v1/deployments/"+d.ID, body)
	expectError(t, status, env, http.StatusConflict, ErrCodeInvalidTransition)
}

func TestInvalidTransition(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	d := h.createDeployment(t, deploymentBody("dev-00"))

	for _, op := range []string{"start", "pause", "resume", "cancel"} {
		t.Run(op, func(t *testing.T) {
			status, env := h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/"+op, nil)
			expectError(t, status, env, http.StatusConflict, ErrCodeInvalidTransition)

			details, ok := env.Error.Details.(map[string]interface{})
			if !ok {
				t.Fatalf("details = %#v, want object", env.Error.Details)
			}
			if details["op"] != op {
				t.Errorf("details.op = %v, want %s", details["op"], op)
			}
			if details["currentStatus"] != string(models.DeploymentDraft) {
				t.Errorf("details.currentStatus = %v, want draft", details["currentStatus"])
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/deployments/missing"},
		{http.MethodPost, "/api/v1/deployments/missing/start"},
		{http.MethodGet, "/api/v1/deployments/missing/progress"},
		{http.MethodGet, "/api/v1/deployments/missing/audit"},
		{http.MethodGet, "/api/v1/deployments/missing/progress/ws"},
		{http.MethodGet, "/api/v1/nowhere"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, env := h.do(t, tt.method, tt.path, nil)
			expectError(t, status, env, http.StatusNotFound, ErrCodeNotFound)
		})
	}
}

func TestInvalidPathID(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	status, env := h.do(t, http.MethodGet, "/api/v1/deployments/-bad", nil)
	expectError(t, status, env, http.StatusBadRequest, ErrCodeValidation)
}

func TestRetryDevice(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	h.putDevices(t, 1)
	d := h.createDeployment(t, deploymentBody("dev-00"))

	// Draft deployments do not accept retries.
	status, env := h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/devices/dev-00/retry", nil)
	expectError(t, status, env, http.StatusConflict, ErrCodeInvalidTransition)

	if status, env := h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/initialize", nil); status != http.StatusOK {
		t.Fatalf("initialize status = %d, error = %+v", status, env.Error)
	}

	status, env = h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/devices/dev-00/retry", nil)
	if status != http.StatusOK {
		t.Fatalf("retry status = %d, error = %+v", status, env.Error)
	}
	if outcome := decodeData[models.RetryOutcome](t, env); outcome.CanRetry {
		t.Error("retrying a pending device should report canRetry=false")
	}

	status, env = h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/devices/dev-99/retry", nil)
	expectError(t, status, env, http.StatusNotFound, ErrCodeNotFound)
}

func TestDeploymentAudit(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	h.putDevices(t, 1)
	d := h.createDeployment(t, deploymentBody("dev-00"), ActorHeader, "alice")
	if d.CreatedBy != "alice" {
		t.Errorf("createdBy = %q, want alice", d.CreatedBy)
	}
	if status, env := h.do(t, http.MethodPost, "/api/v1/deployments/"+d.ID+"/initialize", nil, ActorHeader, "bob"); status != http.StatusOK {
		t.Fatalf("initialize status = %d, error = %+v", status, env.Error)
	}

	var events []audit.Event
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, env := h.do(t, http.MethodGet, "/api/v1/deployments/"+d.ID+"/audit", nil)
		if status != http.StatusOK {
			t.Fatalf("audit status = %d, error = %+v", status, env.Error)
		}
		events = decodeData[[]audit.Event](t, env)
		if len(events) >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Type != audit.EventTypeDeploymentCreated {
		t.Errorf("events[0].type = %q, want %q", events[0].Type, audit.EventTypeDeploymentCreated)
	}
	if events[1].Actor.ID != "bob" {
		t.Errorf("events[1].actor = %+v, want bob", events[1].Actor)
	}

	status, env := h.do(t, http.MethodGet,
		"/api/v1/deployments/"+d.ID+"/audit?types="+string(audit.EventTypeDeploymentCreated)+"&limit=1", nil)
	if status != http.StatusOK {
		t.Fatalf("filtered audit status = %d", status)
	}
	if got := decodeData[[]audit.Event](t, env); len(got) != 1 {
		t.Errorf("filtered events = %d, want 1", len(got))
	}

	status, env = h.do(t, http.MethodGet, "/api/v1/deployments/"+d.ID+"/audit?since=yesterday", nil)
	expectError(t, status, env, http.StatusBadRequest, ErrCodeValidation)

	status, env = h.do(t, http.MethodGet, "/api/v1/deployments/"+d.ID+"/audit?limit=5000", nil)
	expectError(t, status, env, http.StatusBadRequest, ErrCodeValidation)
}

func TestInventory(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	status, env := h.do(t, http.MethodPut, "/api/v1/inventory/devices/dev-a", map[string]interface{}{
		"orgId":  testOrg,
		"status": "broken",
	})
	expectError(t, status, env, http.StatusBadRequest, ErrCodeValidation)

	status, env = h.do(t, http.MethodPut, "/api/v1/inventory/devices/dev-a", map[string]interface{}{
		"orgId":    testOrg,
		"status":   "online",
		"hostname": "kiosk-a",
		"tags":     []string{"kiosk"},
		"maintenanceWindow": map[string]interface{}{
			"days": []int{1, 2, 3}, "startMinute": 60, "endMinute": 180, "timezone": "Europe/Berlin",
		},
	})
	if status != http.StatusOK {
		t.Fatalf("PUT device status = %d, error = %+v", status, env.Error)
	}
	dev := decodeData[models.Device](t, env)
	if dev.ID != "dev-a" || dev.EnrolledAt.IsZero() {
		t.Errorf("device = %+v, want id dev-a with enrolledAt set", dev)
	}

	status, env = h.do(t, http.MethodGet, "/api/v1/inventory/devices?orgId="+testOrg, nil)
	if status != http.StatusOK {
		t.Fatalf("list devices status = %d", status)
	}
	if got := decodeData[[]models.Device](t, env); len(got) != 1 || got[0].Hostname != "kiosk-a" {
		t.Errorf("devices = %+v, want kiosk-a", got)
	}

	status, env = h.do(t, http.MethodPut, "/api/v1/inventory/groups/grp-1", GroupRequest{
		OrgID: testOrg, Name: "kiosks", DeviceIDs: []string{"dev-a"},
	})
	if status != http.StatusOK {
		t.Fatalf("PUT group status = %d, error = %+v", status, env.Error)
	}
	status, env = h.do(t, http.MethodGet, "/api/v1/inventory/groups?orgId="+testOrg, nil)
	if status != http.StatusOK {
		t.Fatalf("list groups status = %d", status)
	}
	if got := decodeData[[]models.Group](t, env); len(got) != 1 || got[0].Name != "kiosks" {
		t.Errorf("groups = %+v, want kiosks", got)
	}

	status, env = h.do(t, http.MethodGet, "/api/v1/inventory/devices", nil)
	expectError(t, status, env, http.StatusBadRequest, ErrCodeValidation)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	status, env := h.do(t, http.MethodGet, "/api/v1/health/live", nil)
	if status != http.StatusOK {
		t.Fatalf("live status = %d", status)
	}
	if got := decodeData[HealthStatus](t, env); got.Status != "ok" || got.Version != "test" {
		t.Errorf("live = %+v", got)
	}

	status, env = h.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	if status != http.StatusOK {
		t.Fatalf("ready status = %d", status)
	}
	if got := decodeData[HealthStatus](t, env); got.Checks["store"] != "ok" {
		t.Errorf("ready checks = %v", got.Checks)
	}

	failing := newAPIHarness(t, func(cfg *HandlerConfig, _ *ChiMiddlewareConfig) {
		cfg.Readiness["store"] = func(context.Context) error { return errors.New("store closed") }
	})
	status, env = failing.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	expectError(t, status, env, http.StatusServiceUnavailable, ErrCodeServiceUnavailable)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t, func(_ *HandlerConfig, mw *ChiMiddlewareConfig) {
		mw.RateLimitDisabled = false
		mw.RateLimitRequests = 1
		mw.RateLimitWindow = time.Minute
	})

	if status, _ := h.do(t, http.MethodGet, "/api/v1/deployments?orgId="+testOrg, nil); status != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", status)
	}
	status, env := h.do(t, http.MethodGet, "/api/v1/deployments?orgId="+testOrg, nil)
	expectError(t, status, env, http.StatusTooManyRequests, ErrCodeRateLimited)

	// Probes are outside the limited group.
	if status, _ := h.do(t, http.MethodGet, "/api/v1/health/live", nil); status != http.StatusOK {
		t.Errorf("live status under rate limit = %d, want 200", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	h.do(t, http.MethodGet, "/api/v1/health/live", nil)

	// The middleware records after the response is written, so poll.
	want := []byte(`api_requests_total{endpoint="/api/v1/health/live"`)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := h.server.Client().Get(h.server.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics error = %v", err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read /metrics: %v", err)
		}
		if bytes.Contains(buf.Bytes(), want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("/metrics should expose api_requests_total labelled by route pattern")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	resp, err := h.server.Client().Get(h.server.URL + "/api/v1/health/live")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be echoed")
	}
}
