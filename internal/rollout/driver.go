// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package rollout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/dispatch"
	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
	"github.com/tomtom215/fleetrollout/internal/models"
	"github.com/tomtom215/fleetrollout/internal/store"
)

var (
	errFinished  = errors.New("deployment reached a terminal status")
	errLeaseLost = errors.New("driver lease lost")
	errStale     = errors.New("deployment changed concurrently")
)

// driver owns the batch loop of one deployment. It implements
// suture.Service and returns suture.ErrDoNotRestart once the deployment is
// terminal or another process holds its lease.
type driver struct {
	e      *Engine
	id     string
	logger zerolog.Logger
}

func newDriver(e *Engine, id string) *driver {
	return &driver{
		e:  e,
		id: id,
		logger: logging.With().
			Str("component", "rollout-driver").
			Str("deployment_id", id).
			Logger(),
	}
}

// String implements fmt.Stringer for suture logging.
func (d *driver) String() string {
	return "rollout-driver/" + d.id
}

// step is what the loop should do after one iteration.
type step struct {
	finished bool
	wait     bool
	until    time.Time
}

func waitUntil(t time.Time) step { return step{wait: true, until: t} }

// Serve runs the batch loop until the deployment is terminal, the lease is
// lost or ctx is cancelled.
func (d *driver) Serve(ctx context.Context) error {
	done := false
	defer func() {
		if done {
			d.e.releaseDriver(d.id)
		}
	}()

	ctx = logging.ContextWithDeploymentID(ctx, d.id)
	holder := d.e.cfg.HolderID

	acquired, err := d.e.store.AcquireLease(ctx, d.id, holder, d.e.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease for deployment %s: %w", d.id, err)
	}
	if !acquired {
		d.logger.Info().Msg("Deployment is driven by another process")
		done = true
		return suture.ErrDoNotRestart
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.e.store.ReleaseLease(releaseCtx, d.id, holder); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to release deployment lease")
		}
	}()

	metrics.ActiveDrivers.Inc()
	defer metrics.ActiveDrivers.Dec()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go d.renewLease(runCtx, cancel)

	wake, unsubscribe := d.e.notifier.subscribe(d.id)
	defer unsubscribe()

	d.logger.Debug().Msg("Driver started")
	err = d.run(runCtx, wake)

	switch {
	case errors.Is(err, errFinished):
		d.logger.Debug().Msg("Driver finished")
		done = true
		return suture.ErrDoNotRestart
	case errors.Is(context.Cause(runCtx), errLeaseLost):
		d.logger.Warn().Msg("Driver stopped after losing its lease")
		done = true
		return suture.ErrDoNotRestart
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

// renewLease extends the lease every third of its TTL and cancels the
// driver when another holder has taken it.
func (d *driver) renewLease(ctx context.Context, cancel context.CancelCauseFunc) {
	ttl := d.e.cfg.LeaseTTL
	ticker := time.NewTicker(max(ttl/3, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := d.e.store.RenewLease(ctx, d.id, d.e.cfg.HolderID, ttl)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Warn().Err(err).Msg("Failed to renew deployment lease")
				continue
			}
			if !ok {
				cancel(errLeaseLost)
				return
			}
		}
	}
}

func (d *driver) run(ctx context.Context, wake <-chan struct{}) error {
	if err := d.recoverInterrupted(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		dep, items, err := d.e.store.Snapshot(ctx, d.id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errFinished
			}
			return fmt.Errorf("load deployment %s: %w", d.id, err)
		}

		next, err := d.iterate(ctx, dep, items)
		if err != nil {
			return err
		}
		if next.finished {
			return errFinished
		}
		if next.wait {
			if err := d.wait(ctx, wake, next.until); err != nil {
				return err
			}
		}
	}
}

// iterate performs the next action the durable state calls for.
func (d *driver) iterate(ctx context.Context, dep *models.Deployment, items []*models.DeviceWorkItem) (step, error) {
	now := d.e.now()

	switch {
	case dep.Status.IsTerminal():
		return step{finished: true}, nil
	case !dep.Status.IsRunning():
		// Paused or not yet started: wait for a change.
		return waitUntil(time.Time{}), nil
	}

	if at := dep.Schedule.StartAt(); now.Before(at) {
		return waitUntil(at), nil
	}

	if dep.Status == models.DeploymentDownloading {
		return step{}, d.enterInstalling(ctx)
	}

	cur := dep.CurrentBatch
	if cur == 0 {
		if dep.TotalBatches == 0 {
			return d.finish(ctx, dep)
		}
		return step{}, d.openBatch(ctx, 1)
	}

	var (
		ready    []*models.DeviceWorkItem
		open     int
		earliest time.Time
	)
	for _, it := range items {
		if it.BatchNumber > cur || !it.Status.IsOpen() {
			continue
		}
		open++
		if it.Status != models.ItemPending {
			continue
		}
		if it.ReadyAt(now) {
			ready = append(ready, it)
			continue
		}
		if earliest.IsZero() || it.NotBefore.Before(earliest) {
			earliest = *it.NotBefore
		}
	}

	if len(ready) > 0 {
		dispatched, err := d.dispatchBatch(ctx, dep, ready)
		if err != nil {
			return step{}, err
		}
		if dispatched == 0 {
			return waitUntil(earliest), nil
		}
		return step{}, nil
	}
	if open > 0 {
		return waitUntil(earliest), nil
	}

	// Every item up to the current batch is resolved.
	if d.breakerTripped(dep, items, cur) {
		return step{}, d.tripBreaker(ctx, dep)
	}
	if cur >= dep.TotalBatches {
		return d.finish(ctx, dep)
	}

	if dep.NextBatchAt == nil {
		if delay := d.batchDelay(dep); delay > 0 {
			at := now.Add(delay)
			_, err := d.update(ctx, func(x *models.Deployment) bool {
				if x.Status != models.DeploymentInstalling || x.CurrentBatch != cur {
					return false
				}
				x.NextBatchAt = &at
				return true
			})
			d.logger.Debug().Int("batch", cur).Time("next_batch_at", at).Msg("Batch resolved, waiting before next batch")
			return step{}, err
		}
	} else if now.Before(*dep.NextBatchAt) {
		return waitUntil(*dep.NextBatchAt), nil
	}

	return step{}, d.openBatch(ctx, cur+1)
}

func (d *driver) batchDelay(dep *models.Deployment) time.Duration {
	if dep.RolloutConfig.Staggered == nil {
		return 0
	}
	return time.Duration(dep.RolloutConfig.Staggered.BatchDelayMinutes) * d.e.cfg.DelayUnit
}

func (d *driver) enterInstalling(ctx context.Context) error {
	_, err := d.e.store.CompareAndSetStatus(ctx, d.id,
		[]models.DeploymentStatus{models.DeploymentDownloading},
		models.DeploymentInstalling, nil)
	if err != nil {
		var mismatch *store.StatusMismatchError
		if errors.As(err, &mismatch) {
			return nil
		}
		return fmt.Errorf("enter installing: %w", err)
	}
	metrics.RecordTransition(string(models.DeploymentDownloading), string(models.DeploymentInstalling))
	d.e.notifier.notify(d.id)
	return nil
}

// openBatch makes batch n current. It is a no-op if the deployment has
// moved on or left the installing phase.
func (d *driver) openBatch(ctx context.Context, n int) error {
	ok, err := d.update(ctx, func(x *models.Deployment) bool {
		if x.Status != models.DeploymentInstalling || x.CurrentBatch != n-1 {
			return false
		}
		x.CurrentBatch = n
		x.NextBatchAt = nil
		return true
	})
	if err != nil || !ok {
		return err
	}

	if n > 1 {
		metrics.RecordBatch("completed")
	}
	metrics.RecordBatch("started")
	d.logger.Info().Int("batch", n).Msg("Batch started")
	d.e.notifier.notify(d.id)
	return nil
}

// update applies a guarded mutation. It reports false without error when
// the guard rejected the current state.
func (d *driver) update(ctx context.Context, mutate func(x *models.Deployment) bool) (bool, error) {
	_, err := d.e.store.UpdateDeployment(ctx, d.id, func(x *models.Deployment) error {
		if !mutate(x) {
			return errStale
		}
		return nil
	})
	if errors.Is(err, errStale) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update deployment %s: %w", d.id, err)
	}
	return true, nil
}

// breakerTripped evaluates the failure threshold of batch cur.
func (d *driver) breakerTripped(dep *models.Deployment, items []*models.DeviceWorkItem, cur int) bool {
	st := dep.RolloutConfig.Staggered
	if st == nil || (st.PauseOnFailureCount == nil && st.PauseOnFailurePercent == nil) {
		return false
	}
	if cur <= dep.BreakerClearedBatch {
		return false
	}

	var counts models.StatusCounts
	for _, it := range items {
		if it.BatchNumber == cur {
			counts.Add(it.Status)
		}
	}
	return ThresholdExceeded(counts, st)
}

// ThresholdExceeded reports whether a resolved batch's failures meet the
// configured count or percentage.
func ThresholdExceeded(batch models.StatusCounts, st *models.StaggeredConfig) bool {
	if st.PauseOnFailureCount != nil && batch.Failed >= *st.PauseOnFailureCount {
		return true
	}
	if st.PauseOnFailurePercent != nil && batch.Total() > 0 {
		pct := float64(batch.Failed) * 100 / float64(batch.Total())
		if pct >= *st.PauseOnFailurePercent {
			return true
		}
	}
	return false
}

func (d *driver) tripBreaker(ctx context.Context, dep *models.Deployment) error {
	out, err := d.e.store.CompareAndSetStatus(ctx, d.id,
		[]models.DeploymentStatus{models.DeploymentInstalling},
		models.DeploymentPaused,
		func(x *models.Deployment) {
			x.PausedFrom = models.DeploymentInstalling
			x.PauseReason = models.PauseReasonFailureThreshold
		})
	if err != nil {
		var mismatch *store.StatusMismatchError
		if errors.As(err, &mismatch) {
			return nil
		}
		return fmt.Errorf("pause on failure threshold: %w", err)
	}

	metrics.FailureThresholdTrips.Inc()
	metrics.RecordTransition(string(models.DeploymentInstalling), string(models.DeploymentPaused))
	d.logger.Warn().Int("batch", dep.CurrentBatch).Msg("Failure threshold reached, deployment paused")
	d.e.audit.Log(audit.DeploymentEvent(ctx, audit.EventTypeFailureThreshold, audit.SystemActor(), out,
		models.DeploymentInstalling, map[string]int{"batch": dep.CurrentBatch}))
	d.e.notifier.notify(d.id)
	return nil
}

func (d *driver) finish(ctx context.Context, dep *models.Deployment) (step, error) {
	out, err := d.e.finish(ctx, dep)
	if err != nil {
		return step{}, err
	}
	if out == nil {
		return step{}, nil
	}
	if dep.TotalBatches > 0 {
		metrics.RecordBatch("completed")
	}
	return step{finished: true}, nil
}

// dispatchBatch dispatches ready items with bounded concurrency and waits
// for all of them. It returns how many were actually dispatched.
func (d *driver) dispatchBatch(ctx context.Context, dep *models.Deployment, ready []*models.DeviceWorkItem) (int, error) {
	var (
		g          errgroup.Group
		dispatched atomic.Int32
	)
	g.SetLimit(d.e.cfg.MaxConcurrency)
	respectWindows := dep.RespectsMaintenanceWindows()

	for _, it := range ready {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok, err := d.dispatchOne(ctx, dep, it, respectWindows)
			if ok {
				dispatched.Add(1)
			}
			return err
		})
	}

	err := g.Wait()
	return int(dispatched.Load()), err
}

// dispatchOne claims, dispatches and records one item. Only store failures
// are returned; device failures end up on the work item.
func (d *driver) dispatchOne(ctx context.Context, dep *models.Deployment, it *models.DeviceWorkItem, respectWindows bool) (bool, error) {
	log := d.logger.With().Str("device_id", it.DeviceID).Int("batch", it.BatchNumber).Logger()

	if respectWindows {
		in, err := d.e.dir.InMaintenanceWindow(ctx, it.DeviceID, d.e.now())
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Maintenance window lookup failed, dispatching")
		case !in:
			log.Debug().Msg("Outside maintenance window, deferring")
			return false, nil
		}
	}

	claimed, err := d.e.store.ClaimItem(ctx, dep.ID, it.DeviceID, d.e.now())
	if err != nil {
		var mismatch *store.StatusMismatchError
		if errors.As(err, &mismatch) || ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("claim device %s: %w", it.DeviceID, err)
	}
	d.e.notifier.notify(dep.ID)

	result := d.invoke(ctx, dep, claimed, log)
	if result == nil {
		// The driver is stopping; recovery fails the item on restart.
		return true, nil
	}

	recordCtx := context.WithoutCancel(ctx)
	rec, err := d.e.store.RecordResult(recordCtx, dep.ID, it.DeviceID, result, d.e.now())
	if err != nil {
		return true, fmt.Errorf("record result of device %s: %w", it.DeviceID, err)
	}

	if rec.Status == models.ItemFailed {
		log.Info().
			Str("result", string(result.Status)).
			Str("error", result.Error).
			Int("attempt", result.Attempt).
			Msg("Device dispatch failed")
		if err := d.scheduleRetry(recordCtx, dep, rec); err != nil {
			return true, err
		}
	} else {
		log.Debug().Int("attempt", result.Attempt).Msg("Device completed")
	}

	d.e.notifier.notify(dep.ID)
	return true, nil
}

// invoke calls the dispatcher with the dispatch timeout. A panic or error
// becomes a failed result. It returns nil only when ctx was cancelled.
func (d *driver) invoke(ctx context.Context, dep *models.Deployment, it *models.DeviceWorkItem, log zerolog.Logger) (result *models.CommandResult) {
	attempt := it.RetryCount + 1
	cmd := dispatch.Command{
		ID:           uuid.NewString(),
		DeploymentID: dep.ID,
		DeviceID:     it.DeviceID,
		Type:         dep.Type,
		Payload:      dep.Payload,
		Attempt:      attempt,
	}

	dctx, cancel := context.WithTimeout(ctx, d.e.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Dispatcher panicked")
			result = &models.CommandResult{
				Status:     models.CommandFailed,
				ExitCode:   -1,
				Error:      fmt.Sprintf("dispatcher panic: %v", r),
				DurationMs: time.Since(start).Milliseconds(),
				Attempt:    attempt,
			}
			metrics.RecordDispatch(string(result.Status), time.Since(start))
		}
	}()

	res, err := d.e.dispatcher.Dispatch(dctx, cmd)
	elapsed := time.Since(start)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil
		}
		res = dispatch.ResultFromError(err, attempt, elapsed)
	case res == nil:
		res = &models.CommandResult{Status: models.CommandFailed, ExitCode: -1, Error: "dispatcher returned no result"}
	}
	res.Attempt = attempt
	if res.DurationMs == 0 {
		res.DurationMs = elapsed.Milliseconds()
	}

	metrics.RecordDispatch(string(res.Status), elapsed)
	return res
}

// scheduleRetry re-queues a failed item if it has budget left.
func (d *driver) scheduleRetry(ctx context.Context, dep *models.Deployment, it *models.DeviceWorkItem) error {
	if !it.CanRetry() {
		metrics.RecordRetry(false)
		d.logger.Warn().Str("device_id", it.DeviceID).Int("retry_count", it.RetryCount).Msg("Device retries exhausted")
		d.e.audit.Log(audit.DeviceRetryEvent(ctx, audit.SystemActor(), dep.ID, dep.OrgID, it.DeviceID,
			models.RetryOutcome{RetryCount: it.RetryCount}))
		return nil
	}

	delay := BackoffDelay(dep.RolloutConfig.RetryConfig.BackoffMinutes, d.e.cfg.DelayUnit)
	outcome, err := d.e.store.IncrementRetry(ctx, dep.ID, it.DeviceID, delay, d.e.now())
	if err != nil {
		var mismatch *store.StatusMismatchError
		if errors.As(err, &mismatch) {
			// Cancelled meanwhile; the failure stands.
			return nil
		}
		return fmt.Errorf("schedule retry of device %s: %w", it.DeviceID, err)
	}

	metrics.RecordRetry(outcome.CanRetry)
	if outcome.CanRetry {
		d.logger.Debug().
			Str("device_id", it.DeviceID).
			Int("retry_count", outcome.RetryCount).
			Time("not_before", *outcome.NotBefore).
			Msg("Device retry scheduled")
	}
	return nil
}

// recoverInterrupted fails items a previous driver left running and sends
// them, together with failed items that still have retry budget, through
// the retry scheduler. The latter are left behind when a driver stops
// between recording a failure and re-queueing it.
func (d *driver) recoverInterrupted(ctx context.Context) error {
	dep, err := d.e.store.GetDeployment(ctx, d.id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errFinished
		}
		return fmt.Errorf("load deployment %s: %w", d.id, err)
	}
	if dep.Status.IsTerminal() {
		return nil
	}

	interrupted, err := d.e.store.FailInterrupted(ctx, d.id, d.e.now())
	if err != nil {
		return fmt.Errorf("fail interrupted items: %w", err)
	}
	if len(interrupted) > 0 {
		d.logger.Warn().Int("interrupted", len(interrupted)).Msg("Recovered devices interrupted mid-dispatch")
	}

	items, err := d.e.store.ListItems(ctx, d.id)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	wasRunning := make(map[string]struct{}, len(interrupted))
	for _, it := range interrupted {
		wasRunning[it.DeviceID] = struct{}{}
	}

	requeued := 0
	for _, it := range items {
		if it.Status != models.ItemFailed {
			continue
		}
		if _, ok := wasRunning[it.DeviceID]; !ok && !it.CanRetry() {
			continue
		}
		if err := d.scheduleRetry(ctx, dep, it); err != nil {
			return err
		}
		requeued++
	}
	if requeued > len(interrupted) {
		d.logger.Warn().Int("stranded", requeued-len(interrupted)).Msg("Re-queued failed devices with retry budget left")
	}
	if requeued > 0 {
		d.e.notifier.notify(d.id)
	}
	return nil
}

// wait sleeps until until, a change notification, the poll interval or
// cancellation, whichever comes first. A zero until waits a full poll
// interval.
func (d *driver) wait(ctx context.Context, wake <-chan struct{}, until time.Time) error {
	timeout := d.e.cfg.ControlPollInterval
	if !until.IsZero() {
		timeout = min(timeout, time.Until(until))
	}
	if timeout <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-timer.C:
	}
	return nil
}
