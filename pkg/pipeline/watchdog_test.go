package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedforge/pkg/feed"
	"feedforge/pkg/store"
)

func watchdogFixture(t *testing.T) (*store.Mem, *Watchdog, *Controller, *LockManager, *Dispatcher, chan string, *BatchStore, *[]string) {
	t.Helper()
	kv := store.NewMem()
	queue := NewController(kv, time.Minute)
	locks := testLocks(kv)
	d, urls := testDispatcher(kv)
	batches := NewBatchStore(kv)

	w := NewWatchdog(kv, queue, locks, d, batches, "*/5 * * * *", 3*time.Minute)
	var restarted []string
	w.Restart = func(feedID string) { restarted = append(restarted, feedID) }
	return kv, w, queue, locks, d, urls, batches, &restarted
}

func TestWatchdogEmptyQueueClearsPending(t *testing.T) {
	_, w, _, _, d, urls, _, restarted := watchdogFixture(t)

	require.NoError(t, d.Dispatch("ghost"))
	<-urls

	w.RunOnce()
	require.Empty(t, d.PendingFeeds())
	require.Empty(t, *restarted)
}

func TestWatchdogRestartsLostDispatch(t *testing.T) {
	_, w, queue, _, _, _, _, restarted := watchdogFixture(t)

	require.NoError(t, queue.Enqueue("f1"))
	// nothing claims to be running and no lock exists

	w.RunOnce()
	require.Equal(t, []string{"f1"}, *restarted)
}

func TestWatchdogHealthyLockNoop(t *testing.T) {
	_, w, queue, locks, _, _, _, restarted := watchdogFixture(t)

	require.NoError(t, queue.Enqueue("f1"))
	queue.SetProcessing(true)
	owner, err := locks.Acquire()
	require.NoError(t, err)
	defer locks.Release(owner)

	w.RunOnce()
	require.Empty(t, *restarted)
}

func TestWatchdogFreshHeartbeatNoop(t *testing.T) {
	kv, w, queue, locks, _, _, _, restarted := watchdogFixture(t)

	require.NoError(t, queue.Enqueue("f1"))
	queue.SetProcessing(true)
	_, err := locks.Acquire()
	require.NoError(t, err)
	// lock entry lost, heartbeat survives
	require.NoError(t, kv.Delete("lock:process"))

	w.RunOnce()
	require.Empty(t, *restarted, "fresh heartbeat means a run is probably alive")
}

func TestWatchdogMissingLockGrace(t *testing.T) {
	_, w, queue, _, _, _, _, restarted := watchdogFixture(t)

	require.NoError(t, queue.Enqueue("f1"))
	queue.SetProcessing(true)
	// no lock, no heartbeat: first check starts the grace clock

	w.RunOnce()
	require.Empty(t, *restarted)

	// within the grace period: still nothing
	w.RunOnce()
	require.Empty(t, *restarted)

	// past the grace period the stale flag is cleared and the feed restarts
	w.nowFn = func() time.Time { return time.Now().Add(5 * time.Minute) }
	w.RunOnce()
	require.Equal(t, []string{"f1"}, *restarted)
	require.False(t, queue.IsProcessing())
}

func TestWatchdogReapsOrphanPendingDispatch(t *testing.T) {
	_, w, queue, _, d, urls, _, _ := watchdogFixture(t)

	require.NoError(t, queue.Enqueue("f1"))
	queue.SetProcessing(true)
	require.NoError(t, d.Dispatch("f1"))
	<-urls

	// no batches exist for the pending continuation
	w.RunOnce()
	require.Empty(t, d.PendingFeeds())
}

func TestWatchdogGivesUpAfterRepeatedRestarts(t *testing.T) {
	kv, w, queue, _, _, _, _, restarted := watchdogFixture(t)

	require.NoError(t, queue.Enqueue("f1"))
	// processing flag stays off, so every check looks like a lost dispatch
	for i := 0; i < 3; i++ {
		w.RunOnce()
	}
	require.Equal(t, []string{"f1", "f1", "f1"}, *restarted)

	w.RunOnce()
	require.Len(t, *restarted, 3, "the fourth attempt must not restart")
	require.Equal(t, feed.StatusErrorRetries, GetStatus(kv, "f1"))
	require.True(t, queue.IsEmpty())
}

func TestWatchdogStalledFileRestart(t *testing.T) {
	kv, w, queue, locks, _, _, batches, restarted := watchdogFixture(t)

	require.NoError(t, queue.Enqueue("f1"))
	queue.SetProcessing(true)
	_, err := locks.Acquire()
	require.NoError(t, err)
	require.NoError(t, kv.Delete("lock:process"))

	meta := testMeta("f1")
	require.NoError(t, batches.Save(meta, [][]feed.WorkItem{{feed.ProductItem(1)}}))

	// pin the file-size probe and age the growth marker past the stall
	// delay
	queue.statFn = func(string) (int64, error) { return 100, nil }
	now := time.Now()
	queue.nowFn = func() time.Time { return now }

	w.RunOnce() // seeds the growth marker
	require.Empty(t, *restarted)

	now = now.Add(2 * time.Minute)
	w.RunOnce()
	require.Equal(t, []string{"f1"}, *restarted)
}
