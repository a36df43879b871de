package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"feedforge/pkg/feed"
	"feedforge/pkg/store"
)

func TestFeedRegistryRoundTrip(t *testing.T) {
	kv := store.NewMem()
	f := feed.Feed{
		ID:       "f1",
		Title:    "Feed",
		FileName: "f1.xml",
		Channel:  "google",
		Attributes: []feed.Attribute{
			{FieldName: "title", AdvisedSource: "post_title"},
		},
	}
	require.NoError(t, SaveFeed(kv, f))

	back, err := LoadFeed(kv, "f1")
	require.NoError(t, err)
	require.Equal(t, f, back)

	_, err = LoadFeed(kv, "missing")
	require.ErrorIs(t, err, ErrFeedNotFound)
}

func TestSaveFeedRejectsInvalid(t *testing.T) {
	kv := store.NewMem()
	err := SaveFeed(kv, feed.Feed{ID: "f1", FileName: "f1.xml", Channel: "google"})
	require.Error(t, err, "a feed without attributes is invalid")
}

func TestStatusDefaultsToReady(t *testing.T) {
	kv := store.NewMem()
	require.Equal(t, feed.StatusReady, GetStatus(kv, "f1"))

	require.NoError(t, SetStatus(kv, "f1", feed.StatusProcessing))
	require.Equal(t, feed.StatusProcessing, GetStatus(kv, "f1"))
}

func TestCountsRoundTrip(t *testing.T) {
	kv := store.NewMem()
	require.NoError(t, SaveCounts(kv, "f1", Counts{Processed: 3, Filtered: 1, Skipped: 2}))
	c := LoadCounts(kv, "f1")
	require.Equal(t, 3, c.Processed)
	require.Equal(t, 1, c.Filtered)
	require.Equal(t, 2, c.Skipped)
}

func TestLedgerRoundTrip(t *testing.T) {
	kv := store.NewMem()
	l := LoadLedger(kv, "f1")
	require.False(t, l.Has(7))

	l.Add(7)
	l.Add(9)
	require.NoError(t, l.Save(kv, "f1"))

	back := LoadLedger(kv, "f1")
	require.True(t, back.Has(7))
	require.True(t, back.Has(9))
	require.False(t, back.Has(8))

	ClearLedger(kv, "f1")
	require.False(t, LoadLedger(kv, "f1").Has(7))
}
