package engine

import (
	"context"
	"time"
)

// IndexHook is notified after each successful commit batch with the
// affected component ids. Hooks run on the index worker pool; errors are
// retried per the engine's RetryPolicy and then logged, never propagated.
type IndexHook interface {
	Name() string
	Sync(ctx context.Context, nids []int) error
}

// IndexHookFunc adapts a function to IndexHook.
type IndexHookFunc struct {
	HookName string
	Fn       func(ctx context.Context, nids []int) error
}

// Name returns the hook name.
func (h IndexHookFunc) Name() string { return h.HookName }

// Sync calls Fn.
func (h IndexHookFunc) Sync(ctx context.Context, nids []int) error { return h.Fn(ctx, nids) }

func (e *Engine) enqueueHooks(t int64, nids []int) {
	if len(e.hooks) == 0 || len(nids) == 0 {
		return
	}
	e.inflightMu.Lock()
	if e.inflight == 0 {
		e.idle = make(chan struct{})
	}
	e.inflight++
	e.inflightMu.Unlock()

	if !e.queue.Enqueue(hookJob{time: t, nids: nids}) {
		e.logger.Warn("index sync skipped, engine closing", "time", t, "components", nids)
		e.jobDone()
	}
}

func (e *Engine) jobDone() {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	e.inflight--
	if e.inflight == 0 {
		close(e.idle)
	}
}

// WaitForHooks blocks until every queued index-sync job has finished or
// ctx is done.
func (e *Engine) WaitForHooks(ctx context.Context) error {
	e.inflightMu.Lock()
	idle := e.idle
	e.inflightMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runWorker processes hook jobs until the queue is closed and drained.
func (e *Engine) runWorker() {
	defer e.wg.Done()
	for {
		job, ok := e.queue.TryDequeue()
		if ok {
			e.runHooks(job)
			e.jobDone()
			continue
		}
		if e.queue.Drained() {
			return
		}
		<-e.queue.Wait()
	}
}

func (e *Engine) runHooks(job hookJob) {
	ctx := context.Background()
	for _, h := range e.hooks {
		e.syncWithRetry(ctx, h, job)
	}
}

func (e *Engine) syncWithRetry(ctx context.Context, h IndexHook, job hookJob) {
	attempts := e.retry.attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(e.retry.Delay(attempt - 1))
		}
		err := h.Sync(ctx, job.nids)
		if err == nil {
			e.metrics.RecordIndexSync("ok")
			return
		}
		e.logger.Warn("index sync failed",
			"hook", h.Name(),
			"time", job.time,
			"attempt", attempt+1,
			"error", err,
		)
		if attempt+1 < attempts {
			e.metrics.RecordIndexSync("retry")
		}
	}
	e.metrics.RecordIndexSync("failed")
	e.logger.Error("index sync gave up",
		"hook", h.Name(),
		"time", job.time,
		"components", job.nids,
		"attempts", attempts,
	)
}
