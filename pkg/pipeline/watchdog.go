package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adhocore/gronx"

	"feedforge/pkg/feed"
	"feedforge/pkg/logger"
	"feedforge/pkg/store"
)

const missingLockSinceKey = "watchdog:missing-lock-since"

// maxRestarts bounds how often the watchdog revives the same feed before
// declaring it beyond automatic recovery.
const maxRestarts = 3

func restartCountKey(feedID string) string { return "watchdog:retries:" + feedID }

// Watchdog periodically inspects the pipeline for lost dispatches and
// stalled runs and restarts the next queued feed when recovery is safe.
type Watchdog struct {
	kv       store.KV
	queue    *Controller
	locks    *LockManager
	dispatch *Dispatcher
	batches  *BatchStore
	// Restart starts the next queued feed; wired to Preparer.Start with
	// unattended=true.
	Restart func(feedID string)

	cron             string
	missingLockGrace time.Duration

	nowFn func() time.Time
}

// NewWatchdog builds the cron health check.
func NewWatchdog(kv store.KV, queue *Controller, locks *LockManager, dispatch *Dispatcher, batches *BatchStore, cron string, missingLockGrace time.Duration) *Watchdog {
	return &Watchdog{
		kv:               kv,
		queue:            queue,
		locks:            locks,
		dispatch:         dispatch,
		batches:          batches,
		cron:             cron,
		missingLockGrace: missingLockGrace,
		nowFn:            time.Now,
	}
}

// Start launches the scheduler goroutine and returns its cancel func.
func (w *Watchdog) Start(ctx context.Context) (context.CancelFunc, error) {
	if !gronx.IsValid(w.cron) {
		return nil, fmt.Errorf("invalid watchdog cron expression: %s", w.cron)
	}
	ctx2, cancel := context.WithCancel(ctx)
	go w.loop(ctx2)
	logger.Info("watchdog_started", "cron", w.cron)
	return cancel, nil
}

func (w *Watchdog) loop(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(w.cron, now, false)
		if err != nil {
			logger.Error("watchdog_nexttick_failed", "cron", w.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(time.Until(next)):
			w.RunOnce()
		case <-ctx.Done():
			logger.Info("watchdog_stopping")
			return
		}
	}
}

// RunOnce evaluates the recovery decision table against the current
// queue, lock and heartbeat state.
func (w *Watchdog) RunOnce() {
	if w.queue.IsEmpty() {
		for _, id := range w.dispatch.PendingFeeds() {
			w.dispatch.ClearPending(id)
			logger.Info("watchdog_cleared_orphan_dispatch", "feed_id", id)
		}
		_ = w.kv.Delete(missingLockSinceKey)
		return
	}

	w.reapPending()

	processing := w.queue.IsProcessing()
	lockHeld := w.locks.Held()

	switch {
	case lockHeld:
		// an active slice owns the pipeline
		_ = w.kv.Delete(missingLockSinceKey)

	case !processing:
		// queued work but nothing claims to run it: a dispatch got lost
		logger.Warn("watchdog_restart_lost_dispatch")
		w.restartNext()

	case w.locks.HeartbeatFresh():
		// flag set, lock missing, but something recently alive; check the
		// output file kept growing before trusting it
		if meta, ok := w.activeMeta(); ok && w.queue.FeedProcessingFailed(meta.FilePath) {
			logger.Warn("watchdog_restart_stalled_file", "feed_id", meta.Feed.ID)
			w.locks.ClearHeartbeat()
			w.queue.SetProcessing(false)
			w.restartNext()
		}

	default:
		// flag set, no lock, no heartbeat: give a reclaim in flight some
		// grace before declaring the run dead
		if w.graceElapsed() {
			logger.Warn("watchdog_restart_missing_lock")
			_ = w.kv.Delete(missingLockSinceKey)
			w.locks.ClearHeartbeat()
			w.queue.SetProcessing(false)
			w.restartNext()
		}
	}
}

// reapPending clears dispatch markers whose batches no longer exist;
// the continuation they promised can never do useful work.
func (w *Watchdog) reapPending() {
	empty, err := w.batches.IsEmpty()
	if err != nil || !empty {
		return
	}
	for _, id := range w.dispatch.PendingFeeds() {
		w.dispatch.ClearPending(id)
		metricRecoveries.Inc()
		logger.Warn("watchdog_reaped_pending_dispatch", "feed_id", id)
	}
}

func (w *Watchdog) activeMeta() (*feed.RunMeta, bool) {
	runKey := w.batches.ActiveRun()
	if runKey == "" {
		return nil, false
	}
	meta, err := w.batches.Meta(runKey)
	if err != nil {
		return nil, false
	}
	return &meta, true
}

// graceElapsed tracks how long the lock has been missing; the first
// sighting starts the clock.
func (w *Watchdog) graceElapsed() bool {
	data, err := w.kv.Get(missingLockSinceKey)
	if err != nil {
		_ = w.kv.Set(missingLockSinceKey, []byte(w.nowFn().UTC().Format(time.RFC3339Nano)))
		return false
	}
	since, err := time.Parse(time.RFC3339Nano, data)
	if err != nil {
		_ = w.kv.Delete(missingLockSinceKey)
		return false
	}
	return w.nowFn().Sub(since) >= w.missingLockGrace
}

func (w *Watchdog) restartNext() {
	next, ok := w.queue.PeekNext()
	if !ok || w.Restart == nil {
		return
	}
	if w.bumpRestartCount(next) > maxRestarts {
		logger.Feed(next, logger.SevError, "automatic recovery gave up", "restarts", maxRestarts)
		if err := SetStatus(w.kv, next, feed.StatusErrorRetries); err != nil {
			logger.Feed(next, logger.SevWarning, "status write failed", "error", err)
		}
		ClearRunState(w.kv, next)
		w.dispatch.ClearPending(next)
		_ = w.queue.Dequeue(next)
		w.queue.SetProcessing(false)
		return
	}
	metricRecoveries.Inc()
	w.Restart(next)
}

// bumpRestartCount increments the per-feed restart counter and returns
// the new value. The counter expires on its own so an old failure streak
// does not count against a later run.
func (w *Watchdog) bumpRestartCount(feedID string) int {
	n := 0
	if data, err := w.kv.Get(restartCountKey(feedID)); err == nil {
		n, _ = strconv.Atoi(data)
	}
	n++
	if err := w.kv.SetTTL(restartCountKey(feedID), []byte(strconv.Itoa(n)), time.Hour); err != nil {
		logger.Warn("restart_counter_write_failed", "error", err)
	}
	return n
}
