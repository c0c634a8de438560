// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/dispatch"
	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/store"
)

// Store is the persistence contract of the engine. Every method is a single
// atomic transaction.
type Store interface {
	CreateDeployment(ctx context.Context, d *models.Deployment) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	ListDeployments(ctx context.Context, orgID string) ([]*models.Deployment, error)
	ListDeploymentsByStatus(ctx context.Context, statuses ...models.DeploymentStatus) ([]*models.Deployment, error)
	UpdateDeployment(ctx context.Context, id string, mutate func(d *models.Deployment) error) (*models.Deployment, error)
	CompareAndSetStatus(ctx context.Context, id string, from []models.DeploymentStatus, to models.DeploymentStatus, mutate func(d *models.Deployment)) (*models.Deployment, error)
	CancelDeployment(ctx context.Context, id string, from []models.DeploymentStatus, now time.Time) (*models.Deployment, int, error)
	FinishDeployment(ctx context.Context, id string, decide func(models.StatusCounts) models.DeploymentStatus, now time.Time) (*models.Deployment, error)

	InitializeItems(ctx context.Context, id string, items []*models.DeviceWorkItem, mutate func(d *models.Deployment)) (*models.Deployment, error)
	ListItems(ctx context.Context, deploymentID string) ([]*models.DeviceWorkItem, error)
	Snapshot(ctx context.Context, deploymentID string) (*models.Deployment, []*models.DeviceWorkItem, error)
	ClaimItem(ctx context.Context, deploymentID, deviceID string, now time.Time) (*models.DeviceWorkItem, error)
	RecordResult(ctx context.Context, deploymentID, deviceID string, result *models.CommandResult, now time.Time) (*models.DeviceWorkItem, error)
	IncrementRetry(ctx context.Context, deploymentID, deviceID string, delay func(int) time.Duration, now time.Time) (models.RetryOutcome, error)
	FailInterrupted(ctx context.Context, deploymentID string, now time.Time) ([]*models.DeviceWorkItem, error)

	AcquireLease(ctx context.Context, deploymentID, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, deploymentID, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, deploymentID, holder string) error
}

// AuditSink receives lifecycle events. Log must not block.
type AuditSink interface {
	Log(event *audit.Event)
}

// DriverHost runs driver services. *suture.Supervisor satisfies it.
type DriverHost interface {
	Add(service suture.Service) suture.ServiceToken
}

// Config holds the engine's policy knobs.
type Config struct {
	// MaxConcurrency bounds concurrent dispatches within one batch.
	MaxConcurrency int
	// DispatchTimeout bounds one dispatch attempt.
	DispatchTimeout time.Duration
	// DelayUnit is the length of one configured "minute". Tests shorten it.
	DelayUnit time.Duration
	// ControlPollInterval is the longest a driver sleeps without re-reading
	// durable state.
	ControlPollInterval time.Duration
	// LeaseTTL is the driver lease lifetime; it is renewed every third.
	LeaseTTL time.Duration
	// MinSuccessPercent is the share of attempted devices that must succeed
	// for a deployment to end completed rather than failed.
	MinSuccessPercent float64
	// HolderID identifies this process in driver leases.
	HolderID string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:      16,
		DispatchTimeout:     5 * time.Minute,
		DelayUnit:           time.Minute,
		ControlPollInterval: 2 * time.Second,
		LeaseTTL:            30 * time.Second,
		MinSuccessPercent:   100,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = def.DispatchTimeout
	}
	if c.DelayUnit <= 0 {
		c.DelayUnit = def.DelayUnit
	}
	if c.ControlPollInterval <= 0 {
		c.ControlPollInterval = def.ControlPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = def.LeaseTTL
	}
	if c.MinSuccessPercent < 0 || c.MinSuccessPercent > 100 {
		c.MinSuccessPercent = def.MinSuccessPercent
	}
	if c.HolderID == "" {
		c.HolderID = uuid.NewString()
	}
}

// DeploymentSpec is the caller-supplied definition of a deployment.
type DeploymentSpec struct {
	OrgID         string               `json:"orgId"`
	Name          string               `json:"name"`
	Type          string               `json:"type"`
	Payload       json.RawMessage      `json:"payload,omitempty"`
	TargetType    models.TargetType    `json:"targetType"`
	TargetConfig  models.TargetConfig  `json:"targetConfig"`
	Schedule      models.Schedule      `json:"schedule"`
	RolloutConfig models.RolloutConfig `json:"rolloutConfig"`
	CreatedBy     string               `json:"createdBy,omitempty"`
}

// Validate checks the tagged unions of the definition.
func (s *DeploymentSpec) Validate() error {
	switch {
	case s.OrgID == "":
		return fmt.Errorf("%w: orgId is required", ErrInvalidDeployment)
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDeployment)
	case s.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidDeployment)
	}
	if _, err := s.TargetConfig.Resolve(s.TargetType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}
	if err := s.RolloutConfig.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}
	if err := s.Schedule.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}
	return nil
}

func (s *DeploymentSpec) applyTo(d *models.Deployment) {
	d.Name = s.Name
	d.Type = s.Type
	d.Payload = s.Payload
	d.TargetType = s.TargetType
	d.TargetConfig = s.TargetConfig
	d.Schedule = s.Schedule
	if d.Schedule.Type == "" {
		d.Schedule.Type = models.ScheduleImmediate
	}
	d.RolloutConfig = s.RolloutConfig
}

// InitializeResult is returned by Initialize.
type InitializeResult struct {
	Deployment  *models.Deployment `json:"deployment"`
	DeviceCount int                `json:"deviceCount"`
	// EmptyTargetSet is set when no device matched. Initialization still
	// succeeds.
	EmptyTargetSet bool `json:"emptyTargetSet"`
}

// Engine exposes the rollout lifecycle operations and supervises one driver
// per active deployment.
type Engine struct {
	cfg        Config
	store      Store
	dir        DeviceDirectory
	dispatcher dispatch.Dispatcher
	audit      AuditSink
	host       DriverHost
	notifier   *notifier
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	drivers map[string]struct{}
}

// New creates an engine. sink may be nil. Drivers are added to host, which
// must be served for deployments to progress.
func New(cfg Config, st Store, dir DeviceDirectory, d dispatch.Dispatcher, sink AuditSink, host DriverHost) *Engine {
	cfg.applyDefaults()
	if sink == nil {
		sink = nopSink{}
	}
	return &Engine{
		cfg:        cfg,
		store:      st,
		dir:        dir,
		dispatcher: d,
		audit:      sink,
		host:       host,
		notifier:   newNotifier(),
		logger:     logging.WithComponent("rollout"),
		now:        func() time.Time { return time.Now().UTC() },
		drivers:    make(map[string]struct{}),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// CreateDeployment stores a new draft deployment.
func (e *Engine) CreateDeployment(ctx context.Context, spec DeploymentSpec) (*models.Deployment, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	d := &models.Deployment{
		ID:        uuid.NewString(),
		OrgID:     spec.OrgID,
		Status:    models.DeploymentDraft,
		CreatedBy: spec.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	spec.applyTo(d)

	if err := e.store.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}

	logging.Ctx(ctx).Info().
		Str("deployment_id", d.ID).
		Str("org_id", d.OrgID).
		Str("target_type", string(d.TargetType)).
		Msg("Deployment created")
	e.record(ctx, audit.EventTypeDeploymentCreated, d, "", nil)
	return d, nil
}

// GetDeployment returns one deployment.
func (e *Engine) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	d, err := e.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, translateStoreError("", err, ErrDeploymentNotFound)
	}
	return d, nil
}

// ListDeployments returns the deployments of an organization, newest first.
func (e *Engine) ListDeployments(ctx context.Context, orgID string) ([]*models.Deployment, error) {
	return e.store.ListDeployments(ctx, orgID)
}

// UpdateDraft replaces the definition of a draft deployment. The
// organization cannot change.
func (e *Engine) UpdateDraft(ctx context.Context, id string, spec DeploymentSpec) (*models.Deployment, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	d, err := e.store.UpdateDeployment(ctx, id, func(d *models.Deployment) error {
		if err := checkTransition(OpUpdate, d.Status); err != nil {
			return err
		}
		if d.OrgID != spec.OrgID {
			return fmt.Errorf("%w: orgId cannot change", ErrInvalidDeployment)
		}
		spec.applyTo(d)
		return nil
	})
	if err != nil {
		return nil, translateStoreError(OpUpdate, err, ErrDeploymentNotFound)
	}

	e.record(ctx, audit.EventTypeDeploymentUpdated, d, d.Status, nil)
	return d, nil
}

// Initialize resolves targets, plans batches and creates the work items,
// moving the deployment from draft to pending. A second call fails with
// ErrInvalidTransition and creates nothing.
func (e *Engine) Initialize(ctx context.Context, id string) (*InitializeResult, error) {
	d, err := e.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(OpInitialize, d.Status); err != nil {
		return nil, err
	}

	deviceIDs, err := ResolveTargets(ctx, e.dir, d)
	if err != nil {
		return nil, err
	}
	plan := PlanBatches(deviceIDs, d.RolloutConfig)
	items := plan.WorkItems(d.RolloutConfig.RetryConfig.MaxRetries)

	out, err := e.store.InitializeItems(ctx, id, items, func(d *models.Deployment) {
		d.DeviceCount = len(deviceIDs)
		d.TotalBatches = plan.Total()
		d.CurrentBatch = 0
	})
	if err != nil {
		return nil, translateStoreError(OpInitialize, err, ErrDeploymentNotFound)
	}

	metrics.RecordTransition(string(models.DeploymentDraft), string(out.Status))
	log := logging.Ctx(ctx).Info().
		Str("deployment_id", id).
		Int("device_count", out.DeviceCount).
		Int("total_batches", out.TotalBatches)
	if len(deviceIDs) == 0 {
		log.Msg("Deployment initialized, 0 devices matched")
	} else {
		log.Msg("Deployment initialized")
	}
	e.record(ctx, audit.EventTypeDeploymentInitialized, out, models.DeploymentDraft, map[string]int{
		"deviceCount":  out.DeviceCount,
		"totalBatches": out.TotalBatches,
	})
	e.notifier.notify(id)

	return &InitializeResult{
		Deployment:     out,
		DeviceCount:    out.DeviceCount,
		EmptyTargetSet: len(deviceIDs) == 0,
	}, nil
}

// Start moves a pending deployment into the running phase and hands it to a
// driver. A deployment without devices completes immediately.
func (e *Engine) Start(ctx context.Context, id string) (*models.Deployment, error) {
	now := e.now()
	d, err := e.store.UpdateDeployment(ctx, id, func(d *models.Deployment) error {
		if err := checkTransition(OpStart, d.Status); err != nil {
			return err
		}
		d.Status = models.DeploymentDownloading
		d.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, translateStoreError(OpStart, err, ErrDeploymentNotFound)
	}

	metrics.RecordTransition(string(models.DeploymentPending), string(d.Status))
	logging.Ctx(ctx).Info().Str("deployment_id", id).Msg("Deployment started")
	e.record(ctx, audit.EventTypeDeploymentStarted, d, models.DeploymentPending, nil)

	if d.DeviceCount == 0 {
		finished, err := e.finish(ctx, d)
		if err != nil {
			return nil, err
		}
		if finished != nil {
			return finished, nil
		}
	}

	e.ensureDriver(id)
	e.notifier.notify(id)
	return d, nil
}

// Pause stops dispatching new devices. Dispatches already in flight finish
// and are recorded.
func (e *Engine) Pause(ctx context.Context, id string) (*models.Deployment, error) {
	var from models.DeploymentStatus
	d, err := e.store.UpdateDeployment(ctx, id, func(d *models.Deployment) error {
		if err := checkTransition(OpPause, d.Status); err != nil {
			return err
		}
		from = d.Status
		d.PausedFrom = d.Status
		d.PauseReason = models.PauseReasonManual
		d.Status = models.DeploymentPaused
		return nil
	})
	if err != nil {
		return nil, translateStoreError(OpPause, err, ErrDeploymentNotFound)
	}

	metrics.RecordTransition(string(from), string(d.Status))
	logging.Ctx(ctx).Info().Str("deployment_id", id).Str("paused_from", string(from)).Msg("Deployment paused")
	e.record(ctx, audit.EventTypeDeploymentPaused, d, from, nil)
	e.notifier.notify(id)
	return d, nil
}

// Resume returns a paused deployment to the phase it was paused in. Resuming
// after a failure-threshold pause accepts the current batch's failures.
func (e *Engine) Resume(ctx context.Context, id string) (*models.Deployment, error) {
	var reason models.PauseReason
	d, err := e.store.UpdateDeployment(ctx, id, func(d *models.Deployment) error {
		if err := checkTransition(OpResume, d.Status); err != nil {
			return err
		}
		reason = d.PauseReason
		if reason == models.PauseReasonFailureThreshold {
			d.BreakerClearedBatch = d.CurrentBatch
		}
		d.Status = resumeTarget(d)
		d.PausedFrom = ""
		d.PauseReason = models.PauseReasonNone
		return nil
	})
	if err != nil {
		return nil, translateStoreError(OpResume, err, ErrDeploymentNotFound)
	}

	metrics.RecordTransition(string(models.DeploymentPaused), string(d.Status))
	logging.Ctx(ctx).Info().
		Str("deployment_id", id).
		Str("pause_reason", string(reason)).
		Msg("Deployment resumed")
	e.record(ctx, audit.EventTypeDeploymentResumed, d, models.DeploymentPaused, map[string]string{
		"pauseReason": string(reason),
	})
	e.ensureDriver(id)
	e.notifier.notify(id)
	return d, nil
}

// Cancel ends a deployment. Pending items become skipped in the same
// transaction; running items finish and record their result.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Deployment, error) {
	before, err := e.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}

	d, skipped, err := e.store.CancelDeployment(ctx, id, AllowedFrom(OpCancel), e.now())
	if err != nil {
		return nil, translateStoreError(OpCancel, err, ErrDeploymentNotFound)
	}

	metrics.RecordTransition(string(before.Status), string(d.Status))
	logging.Ctx(ctx).Info().
		Str("deployment_id", id).
		Int("skipped", skipped).
		Msg("Deployment cancelled")
	e.record(ctx, audit.EventTypeDeploymentCancelled, d, before.Status, map[string]int{"skipped": skipped})
	e.notifier.notify(id)
	return d, nil
}

// Progress returns a snapshot of the deployment's work items.
func (e *Engine) Progress(ctx context.Context, id string) (*models.Progress, error) {
	d, items, err := e.store.Snapshot(ctx, id)
	if err != nil {
		return nil, translateStoreError("", err, ErrDeploymentNotFound)
	}
	p := ComputeProgress(d, items, e.now())
	return &p, nil
}

// ListItems returns the deployment's work items in resolution order.
func (e *Engine) ListItems(ctx context.Context, id string) ([]*models.DeviceWorkItem, error) {
	if _, err := e.GetDeployment(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListItems(ctx, id)
}

// RetryDevice re-queues a failed device, consuming one retry. When the
// device is not failed or has no budget left the outcome has CanRetry
// false and nothing changes.
func (e *Engine) RetryDevice(ctx context.Context, id, deviceID string) (models.RetryOutcome, error) {
	d, err := e.GetDeployment(ctx, id)
	if err != nil {
		return models.RetryOutcome{}, err
	}
	if err := checkTransition(OpRetry, d.Status); err != nil {
		return models.RetryOutcome{}, err
	}

	delay := BackoffDelay(d.RolloutConfig.RetryConfig.BackoffMinutes, e.cfg.DelayUnit)
	outcome, err := e.store.IncrementRetry(ctx, id, deviceID, delay, e.now())
	if err != nil {
		return models.RetryOutcome{}, translateStoreError(OpRetry, err, ErrItemNotFound)
	}

	logging.Ctx(ctx).Info().
		Str("deployment_id", id).
		Str("device_id", deviceID).
		Int("retry_count", outcome.RetryCount).
		Bool("can_retry", outcome.CanRetry).
		Msg("Manual device retry")
	e.audit.Log(audit.DeviceRetryEvent(ctx, actorFrom(ctx), id, d.OrgID, deviceID, outcome))

	if outcome.CanRetry {
		metrics.RecordRetry(true)
		if d.Status.IsActive() {
			e.ensureDriver(id)
		}
		e.notifier.notify(id)
	}
	return outcome, nil
}

// Subscribe returns a channel signalled whenever the deployment changes and
// a function that ends the subscription.
func (e *Engine) Subscribe(id string) (<-chan struct{}, func()) {
	return e.notifier.subscribe(id)
}

// Recover restarts drivers for every deployment left running or paused,
// typically by a previous process. It returns the number of deployments
// handed to drivers.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	deps, err := e.store.ListDeploymentsByStatus(ctx,
		models.DeploymentDownloading,
		models.DeploymentInstalling,
		models.DeploymentPaused,
	)
	if err != nil {
		return 0, fmt.Errorf("list active deployments: %w", err)
	}

	for _, d := range deps {
		e.logger.Info().
			Str("deployment_id", d.ID).
			Str("status", string(d.Status)).
			Msg("Recovering deployment driver")
		e.audit.Log(audit.DeploymentEvent(ctx, audit.EventTypeDeploymentRecovered, audit.SystemActor(), d, d.Status, nil))
		e.ensureDriver(d.ID)
	}
	return len(deps), nil
}

// ActiveDrivers returns the number of deployments with a driver in this
// process.
func (e *Engine) ActiveDrivers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.drivers)
}

// ensureDriver adds a driver for id unless one is already registered.
func (e *Engine) ensureDriver(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.drivers[id]; ok || e.host == nil {
		return
	}
	e.drivers[id] = struct{}{}
	e.host.Add(newDriver(e, id))
}

// releaseDriver forgets the driver of id once it has stopped for good.
func (e *Engine) releaseDriver(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.drivers, id)
}

// finish moves a running deployment to its rollup status. It returns nil
// without error when items are still outstanding or the status changed.
func (e *Engine) finish(ctx context.Context, d *models.Deployment) (*models.Deployment, error) {
	decide := func(c models.StatusCounts) models.DeploymentStatus {
		return Rollup(c, e.cfg.MinSuccessPercent)
	}
	out, err := e.store.FinishDeployment(ctx, d.ID, decide, e.now())
	if err != nil {
		var mismatch *store.StatusMismatchError
		if errors.Is(err, store.ErrItemsOutstanding) || errors.As(err, &mismatch) {
			return nil, nil
		}
		return nil, fmt.Errorf("finish deployment %s: %w", d.ID, err)
	}

	metrics.RecordTransition(string(d.Status), string(out.Status))
	typ := audit.EventTypeDeploymentCompleted
	if out.Status == models.DeploymentFailed {
		typ = audit.EventTypeDeploymentFailed
	}
	e.logger.Info().
		Str("deployment_id", d.ID).
		Str("status", string(out.Status)).
		Msg("Deployment finished")
	e.audit.Log(audit.DeploymentEvent(ctx, typ, audit.SystemActor(), out, d.Status, nil))
	e.notifier.notify(d.ID)
	return out, nil
}

// record logs a caller-initiated lifecycle event.
func (e *Engine) record(ctx context.Context, typ audit.EventType, d *models.Deployment, from models.DeploymentStatus, metadata any) {
	e.audit.Log(audit.DeploymentEvent(ctx, typ, actorFrom(ctx), d, from, metadata))
}

type actorKey struct{}

// WithActor returns a context attributing lifecycle operations to actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) audit.Actor {
	id, _ := ctx.Value(actorKey{}).(string)
	return audit.UserActor(id)
}

type nopSink struct{}

func (nopSink) Log(*audit.Event) {}
