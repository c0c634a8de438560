// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomtom215/fleetrollout/internal/logging"
)

func serveWithRequestID(t *testing.T, header string) (responseID, contextID, loggingID string) {
	t.Helper()

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contextID = GetRequestID(r.Context())
		loggingID = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if header != "" {
		req.Header.Set(RequestIDHeader, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec.Header().Get(RequestIDHeader), contextID, loggingID
}

func TestRequestID_GeneratesNewID(t *testing.T) {
	t.Parallel()

	responseID, contextID, loggingID := serveWithRequestID(t, "")

	if _, err := uuid.Parse(responseID); err != nil {
		t.Errorf("response X-Request-ID %q is not a UUID: %v", responseID, err)
	}
	if contextID != responseID {
		t.Errorf("context ID = %q, want %q", contextID, responseID)
	}
	if loggingID != responseID {
		t.Errorf("logging request ID = %q, want %q", loggingID, responseID)
	}
}

func TestRequestID_PreservesExistingID(t *testing.T) {
	t.Parallel()

	responseID, contextID, _ := serveWithRequestID(t, "upstream-id-12345")

	if responseID != "upstream-id-12345" {
		t.Errorf("response ID = %q, want upstream-id-12345", responseID)
	}
	if contextID != "upstream-id-12345" {
		t.Errorf("context ID = %q, want upstream-id-12345", contextID)
	}
}

func TestRequestID_ReplacesOversizedID(t *testing.T) {
	t.Parallel()

	responseID, _, _ := serveWithRequestID(t, strings.Repeat("x", maxRequestIDLength+1))

	if _, err := uuid.Parse(responseID); err != nil {
		t.Errorf("oversized upstream ID should be replaced with a UUID, got %q", responseID)
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}
