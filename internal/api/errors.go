// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tomtom215/fleetrollout/internal/directory"
	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/rollout"
	"github.com/tomtom215/fleetrollout/internal/store"
)

// TransitionDetails is the details object of an INVALID_TRANSITION error.
type TransitionDetails struct {
	Op            string `json:"op"`
	CurrentStatus string `json:"currentStatus"`
}

// statusForError maps engine, store and inventory errors to an HTTP status
// and error code. Unknown errors are internal.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, rollout.ErrInvalidTransition):
		return http.StatusConflict, ErrCodeInvalidTransition
	case errors.Is(err, rollout.ErrDeploymentNotFound),
		errors.Is(err, rollout.ErrItemNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, directory.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, rollout.ErrInvalidDeployment),
		errors.Is(err, models.ErrRolloutConfig),
		errors.Is(err, models.ErrTargetShape):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrStatusMismatch),
		errors.Is(err, store.ErrItemsOutstanding):
		return http.StatusConflict, ErrCodeConflict
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// EngineError writes the envelope for err. Internal errors are logged and
// their text is not returned to the client.
func (rw *ResponseWriter) EngineError(err error) {
	status, code := statusForError(err)

	if status == http.StatusInternalServerError {
		logging.Ctx(rw.r.Context()).Error().
			Err(err).
			Str("method", rw.r.Method).
			Str("path", sanitizeLogValue(rw.r.URL.Path)).
			Msg("API request failed")
		rw.InternalError("internal error")
		return
	}

	var details interface{}
	var terr *rollout.TransitionError
	if errors.As(err, &terr) {
		details = TransitionDetails{Op: string(terr.Op), CurrentStatus: string(terr.From)}
	}
	rw.ErrorWithDetails(status, code, err.Error(), details)
}

// sanitizeLogValue removes control characters from strings to prevent log
// injection.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&result, "\\x%02x", r)
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
