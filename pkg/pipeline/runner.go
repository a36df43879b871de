package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"feedforge/pkg/feed"
	"feedforge/pkg/feed/render"
	"feedforge/pkg/logger"
	"feedforge/pkg/notify"
	"feedforge/pkg/store"
)

// RunnerConfig carries the per-slice resource budgets.
type RunnerConfig struct {
	TimeBudget  time.Duration
	MemoryLimit uint64
	LockRefresh time.Duration
	Background  bool
}

// Runner drives feed runs: it takes the process lock, drains batches
// oldest-first, suspends when a budget is exceeded (persisting the
// remainder and re-dispatching) and finalizes the run when the queue
// store empties. Suspension points sit between items, never mid-item.
type Runner struct {
	kv       store.KV
	locks    *LockManager
	batches  *BatchStore
	queue    *Controller
	dispatch *Dispatcher
	exec     *Executor
	notifier notify.Notifier
	cfg      RunnerConfig

	nowFn func() time.Time
	memFn func() uint64

	// OnSliceEnd is an optional telemetry hook observing slice durations.
	OnSliceEnd func(feedID string, d time.Duration)
	// StartNext advances to the next queued feed after a successful run.
	StartNext func(feedID string, unattended bool)
}

// NewRunner wires a batch runner.
func NewRunner(kv store.KV, locks *LockManager, batches *BatchStore, queue *Controller, dispatch *Dispatcher, exec *Executor, notifier notify.Notifier, cfg RunnerConfig) *Runner {
	return &Runner{
		kv:       kv,
		locks:    locks,
		batches:  batches,
		queue:    queue,
		dispatch: dispatch,
		exec:     exec,
		notifier: notifier,
		cfg:      cfg,
		nowFn:    time.Now,
		memFn:    heapInUse,
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

func (r *Runner) timeExceeded(start time.Time) bool {
	return r.nowFn().Sub(start) >= r.cfg.TimeBudget
}

// memoryExceeded trips at 90% of the configured limit.
func (r *Runner) memoryExceeded() bool {
	if r.cfg.MemoryLimit == 0 {
		return false
	}
	return r.memFn() >= r.cfg.MemoryLimit/10*9
}

// RunSlice processes batches for one slice. When another slice holds the
// lock it returns nil immediately; the holder will dispatch continuation
// itself.
func (r *Runner) RunSlice(ctx context.Context, feedID string) error {
	owner, err := r.locks.Acquire()
	if errors.Is(err, ErrLockUnavailable) {
		logger.Info("slice_skipped_lock_busy", "feed_id", feedID)
		return nil
	}
	if err != nil {
		return err
	}

	start := r.nowFn()
	lastRefresh := start
	released := false
	defer func() {
		if !released {
			_ = r.locks.Release(owner)
		}
		if r.OnSliceEnd != nil {
			r.OnSliceEnd(feedID, r.nowFn().Sub(start))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.batches.OldestBatch()
		if errors.Is(err, ErrQueueEmpty) {
			released = true
			_ = r.locks.Release(owner)
			r.finalize(feedID)
			return nil
		}
		if err != nil {
			r.failRun(feedID, nil, err)
			return nil
		}

		meta, err := r.batches.Meta(batch.RunKey)
		if err != nil {
			r.failRun(feedID, nil, err)
			return nil
		}

		suspend, err := r.drainBatch(ctx, owner, batch, &meta, start, &lastRefresh)
		if err != nil {
			r.failRun(feedID, &meta, err)
			return nil
		}
		if suspend {
			released = true
			_ = r.locks.Release(owner)
			// the run lives on in the continuation request; keep the
			// heartbeat up so nothing re-prepares the feed meanwhile
			r.locks.KeepAlive(owner)
			if err := r.dispatch.Dispatch(feedID); err != nil {
				logger.Feed(feedID, logger.SevWarning, "continuation dispatch failed", "error", err)
			}
			return nil
		}
	}
}

// drainBatch consumes one batch. It returns suspend=true when a budget
// expired and the remainder was persisted for the next slice.
func (r *Runner) drainBatch(ctx context.Context, owner string, batch *Batch, meta *feed.RunMeta, start time.Time, lastRefresh *time.Time) (bool, error) {
	file, err := os.OpenFile(meta.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open feed file: %w", err)
	}
	defer file.Close()

	ser := render.ForPath(meta.FilePath, meta.Channel, meta.Feed.ArraySeparator, meta.Feed.TextSep())
	feedID := meta.Feed.ID
	ledger := LoadLedger(r.kv, feedID)
	counts := LoadCounts(r.kv, feedID)

	persist := func() {
		if err := ledger.Save(r.kv, feedID); err != nil {
			logger.Feed(feedID, logger.SevWarning, "ledger persist failed", "error", err)
		}
		if err := SaveCounts(r.kv, feedID, counts); err != nil {
			logger.Feed(feedID, logger.SevWarning, "counts persist failed", "error", err)
		}
	}

	for i, item := range batch.Items {
		if item.Kind == feed.ItemProduct && ledger.Has(item.ProductID) {
			continue
		}

		line, res := r.exec.Task(ctx, item, meta, ser)
		if res == ResultAdded && line != "" {
			if _, err := file.WriteString(line); err != nil {
				persist()
				return false, fmt.Errorf("append to feed file: %w", err)
			}
		}
		if item.Kind == feed.ItemProduct {
			metricItems.WithLabelValues(string(res)).Inc()
			switch res {
			case ResultAdded:
				counts.Processed++
				ledger.Add(item.ProductID)
			case ResultFiltered:
				counts.Filtered++
			default:
				counts.Skipped++
			}
		}

		if r.nowFn().Sub(*lastRefresh) >= r.cfg.LockRefresh {
			if err := r.locks.Refresh(owner); err != nil {
				persist()
				return false, ErrLockLost
			}
			*lastRefresh = r.nowFn()
		}

		if r.cfg.Background && i < len(batch.Items)-1 && (r.timeExceeded(start) || r.memoryExceeded()) {
			batch.Items = batch.Items[i+1:]
			if err := r.batches.Update(batch); err != nil {
				return false, fmt.Errorf("persist batch remainder: %w", err)
			}
			persist()
			r.queue.UpdateFileGrowTimer()
			return true, nil
		}
	}

	if err := r.batches.Delete(batch.Key); err != nil {
		return false, fmt.Errorf("delete drained batch: %w", err)
	}
	persist()
	metricBatches.Inc()
	r.queue.UpdateFileGrowTimer()

	if r.cfg.Background && (r.timeExceeded(start) || r.memoryExceeded()) {
		if empty, _ := r.batches.IsEmpty(); !empty {
			return true, nil
		}
	}
	return false, nil
}

// finalize completes a run whose queue store drained: status back to
// ready, ledger cleared, feed removed from the cross-feed queue, and the
// next queued feed (if any) started.
func (r *Runner) finalize(feedID string) {
	unattended := false
	if runKey := r.batches.ActiveRun(); runKey != "" {
		if meta, err := r.batches.Meta(runKey); err == nil {
			unattended = meta.Unattended
		}
		r.batches.Clear(runKey)
	}
	if err := SetStatus(r.kv, feedID, feed.StatusReady); err != nil {
		logger.Feed(feedID, logger.SevWarning, "status write failed", "error", err)
	}
	ClearLedger(r.kv, feedID)
	// a completed run resets the watchdog's patience with this feed
	_ = r.kv.Delete(restartCountKey(feedID))
	r.dispatch.ClearPending(feedID)
	if err := r.queue.Dequeue(feedID); err != nil {
		logger.Feed(feedID, logger.SevWarning, "dequeue failed", "error", err)
	}
	r.queue.SetProcessing(false)
	metricRuns.WithLabelValues(feed.StatusReady).Inc()

	c := LoadCounts(r.kv, feedID)
	logger.Feed(feedID, logger.SevInfo, "run completed",
		"processed", c.Processed, "filtered", c.Filtered, "skipped", c.Skipped)

	if next, ok := r.queue.PeekNext(); ok && r.StartNext != nil {
		r.StartNext(next, unattended)
	}
}

// failRun aborts the run: error status, run state cleared, optional
// notification when nobody was watching.
func (r *Runner) failRun(feedID string, meta *feed.RunMeta, cause error) {
	logger.Feed(feedID, logger.SevError, "run aborted", "error", cause)
	if err := SetStatus(r.kv, feedID, feed.StatusError); err != nil {
		logger.Feed(feedID, logger.SevWarning, "status write failed", "error", err)
	}

	runKey := ""
	unattended := false
	if meta != nil {
		runKey = meta.RunKey
		unattended = meta.Unattended
	} else if runKey = r.batches.ActiveRun(); runKey != "" {
		if m, err := r.batches.Meta(runKey); err == nil {
			unattended = m.Unattended
		}
	}
	r.batches.Clear(runKey)
	ClearRunState(r.kv, feedID)
	r.dispatch.ClearPending(feedID)
	_ = r.queue.Dequeue(feedID)
	r.queue.SetProcessing(false)
	metricRuns.WithLabelValues(feed.StatusError).Inc()

	if unattended && r.notifier != nil {
		subject := fmt.Sprintf("Feed generation failed: %s", feedID)
		body := fmt.Sprintf("The scheduled run for feed %q was aborted.\n\nReason: %v\n", feedID, cause)
		if err := r.notifier.Send(subject, body); err != nil {
			logger.Feed(feedID, logger.SevWarning, "failure notification not delivered", "error", err)
		}
	}
}
