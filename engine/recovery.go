package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Recovery is the heartbeat sweep described in spec.md §4.7: a node stuck
// RUNNING whose heartbeat has gone stale is presumed to belong to a crashed
// worker and is reset to PENDING so the next Decide iteration picks it up
// again. Grounded on the teacher's graph/engine.go background-goroutine
// sweep pattern, rebuilt on robfig/cron/v3 (used across the retrieval
// pack's service-layer repo for scheduled maintenance jobs) instead of a
// hand-rolled ticker, so the sweep schedule follows the same cron
// vocabulary those services already use for periodic jobs.
type Recovery struct {
	e       *Engine
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewRecovery wires a Recovery sweeper against e's Cache and active-set.
func NewRecovery(e *Engine) *Recovery {
	return &Recovery{e: e, cron: cron.New()}
}

// Start performs one synchronous sweep (so a freshly restarted engine
// recovers any work orphaned by its own crash before serving new
// requests) and then schedules a recurring sweep every
// Options.SweeperInterval.
func (r *Recovery) Start(ctx context.Context) error {
	if err := r.sweep(ctx); err != nil {
		return err
	}
	interval := r.e.opts.SweeperInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	spec := "@every " + interval.String()
	id, err := r.cron.AddFunc(spec, func() {
		_ = r.sweep(context.Background())
	})
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to schedule recovery sweep", err)
	}
	r.entryID = id
	r.cron.Start()
	return nil
}

// Stop halts the recurring sweep. In-flight sweeps are allowed to finish.
func (r *Recovery) Stop() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// sweep implements spec.md §4.7: for every active execution, every node
// whose status is RUNNING or SCHEDULED but whose heartbeat has not been
// refreshed within H_stale (Options.HeartbeatStale, 5 min by default) is
// reset to PENDING; if any node was reset,
// a Decide tail-call is scheduled so the execution resumes without
// waiting for its next natural trigger.
func (r *Recovery) sweep(ctx context.Context) error {
	active, err := r.e.cache.ActiveExecutions(ctx)
	if err != nil {
		return err
	}
	for _, executionID := range active {
		if err := r.sweepExecution(ctx, executionID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recovery) sweepExecution(ctx context.Context, executionID string) error {
	nodes, err := r.e.cache.LoadAllNodes(ctx, executionID)
	if err != nil {
		return err
	}

	resetAny := false
	for nodeID, ne := range nodes {
		if ne.Status != StatusRunning && ne.Status != StatusScheduled {
			continue
		}
		hb, err := r.e.cache.LoadHeartbeat(ctx, executionID, nodeID)
		stale := err == ErrNotFound
		if err != nil && err != ErrNotFound {
			return err
		}
		if !stale && time.Since(hb.UpdatedAt) > r.e.opts.HeartbeatStale {
			stale = true
		}
		if !stale {
			continue
		}

		ne.Status = StatusPending
		ne.Error = ""
		ne.ErrorKind = ""
		_ = r.e.cache.ClearHeartbeat(ctx, executionID, nodeID)
		if err := r.e.commitNode(ctx, ne, EventNodeRetried, map[string]any{"reason": "stale_heartbeat"}); err != nil {
			return err
		}
		resetAny = true
	}

	if resetAny {
		go r.e.Decide(detach(ctx), executionID)
	}
	return nil
}
