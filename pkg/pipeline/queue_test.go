package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedforge/pkg/feed"
	"feedforge/pkg/store"
)

func testMeta(feedID string) feed.RunMeta {
	return feed.RunMeta{
		RunKey:   "run-" + feedID,
		Feed:     feed.Feed{ID: feedID, FileName: feedID + ".xml", Channel: "google"},
		FilePath: "/tmp/" + feedID + ".xml",
		Channel:  feed.Channel("google"),
		Relation: feed.DefaultRelation(),
	}
}

func TestBatchStoreOldestFirst(t *testing.T) {
	kv := store.NewMem()
	s := NewBatchStore(kv)
	base := time.Now()
	n := 0
	s.nowFn = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }

	meta := testMeta("f1")
	groups := [][]feed.WorkItem{
		{feed.ProductItem(1), feed.ProductItem(2)},
		{feed.ProductItem(3)},
	}
	require.NoError(t, s.Save(meta, groups))

	b, err := s.OldestBatch()
	require.NoError(t, err)
	require.Equal(t, "run-f1", b.RunKey)
	require.Len(t, b.Items, 2)
	require.Equal(t, int64(1), b.Items[0].ProductID)

	require.NoError(t, s.Delete(b.Key))
	b, err = s.OldestBatch()
	require.NoError(t, err)
	require.Equal(t, int64(3), b.Items[0].ProductID)

	require.NoError(t, s.Delete(b.Key))
	_, err = s.OldestBatch()
	require.ErrorIs(t, err, ErrQueueEmpty)
}

func TestBatchStoreUpdateKeepsPosition(t *testing.T) {
	kv := store.NewMem()
	s := NewBatchStore(kv)

	meta := testMeta("f1")
	require.NoError(t, s.Save(meta, [][]feed.WorkItem{
		{feed.ProductItem(1), feed.ProductItem(2), feed.ProductItem(3)},
	}))

	b, err := s.OldestBatch()
	require.NoError(t, err)

	// persist a remainder exactly as a budget suspension would
	b.Items = b.Items[1:]
	require.NoError(t, s.Update(b))

	again, err := s.OldestBatch()
	require.NoError(t, err)
	require.Equal(t, b.Key, again.Key)
	require.Len(t, again.Items, 2)
	require.Equal(t, int64(2), again.Items[0].ProductID)
}

func TestBatchStoreMetaMissingIsLoud(t *testing.T) {
	kv := store.NewMem()
	s := NewBatchStore(kv)

	_, err := s.Meta("nope")
	require.ErrorIs(t, err, ErrMissingMeta)
}

func TestBatchStoreClear(t *testing.T) {
	kv := store.NewMem()
	s := NewBatchStore(kv)

	meta := testMeta("f1")
	require.NoError(t, s.Save(meta, [][]feed.WorkItem{{feed.ProductItem(1)}}))
	require.Equal(t, "run-f1", s.ActiveRun())

	s.Clear("run-f1")
	empty, err := s.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
	require.Empty(t, s.ActiveRun())
	_, err = s.Meta("run-f1")
	require.ErrorIs(t, err, ErrMissingMeta)
}

func TestControllerSetSemantics(t *testing.T) {
	kv := store.NewMem()
	c := NewController(kv, time.Minute)

	require.NoError(t, c.Enqueue("a"))
	require.NoError(t, c.Enqueue("b"))
	require.NoError(t, c.Enqueue("a"))

	next, ok := c.PeekNext()
	require.True(t, ok)
	require.Equal(t, "a", next)

	require.NoError(t, c.Dequeue("a"))
	next, ok = c.PeekNext()
	require.True(t, ok)
	require.Equal(t, "b", next)

	require.NoError(t, c.Dequeue("b"))
	require.True(t, c.IsEmpty())
	_, ok = c.PeekNext()
	require.False(t, ok)
}

func TestControllerDequeueLastClearsGlobalState(t *testing.T) {
	kv := store.NewMem()
	c := NewController(kv, time.Minute)

	require.NoError(t, c.Enqueue("a"))
	c.SetProcessing(true)
	require.True(t, c.IsProcessing())

	require.NoError(t, c.Dequeue("a"))
	require.False(t, c.IsProcessing())
}

func TestFeedProcessingFailed(t *testing.T) {
	kv := store.NewMem()
	c := NewController(kv, time.Minute)

	size := int64(100)
	c.statFn = func(string) (int64, error) { return size, nil }
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	// first call seeds the marker
	require.False(t, c.FeedProcessingFailed("/tmp/out.xml"))

	// file grew: healthy
	size = 200
	now = now.Add(30 * time.Second)
	require.False(t, c.FeedProcessingFailed("/tmp/out.xml"))

	// no growth but within the stall delay
	now = now.Add(30 * time.Second)
	require.False(t, c.FeedProcessingFailed("/tmp/out.xml"))

	// still no growth past the delay: stuck
	now = now.Add(2 * time.Minute)
	require.True(t, c.FeedProcessingFailed("/tmp/out.xml"))

	// the marker was reset; the next check starts a fresh window
	require.False(t, c.FeedProcessingFailed("/tmp/out.xml"))
}

func TestUpdateFileGrowTimerPreventsFalsePositive(t *testing.T) {
	kv := store.NewMem()
	c := NewController(kv, time.Minute)

	c.statFn = func(string) (int64, error) { return 100, nil }
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	require.False(t, c.FeedProcessingFailed("/tmp/out.xml"))

	// a healthy runner re-stamps after every batch
	now = now.Add(50 * time.Second)
	c.UpdateFileGrowTimer()

	now = now.Add(50 * time.Second)
	require.False(t, c.FeedProcessingFailed("/tmp/out.xml"))
}
