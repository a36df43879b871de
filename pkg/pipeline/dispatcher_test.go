package pipeline

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedforge/pkg/store"
)

func testDispatcher(kv store.KV) (*Dispatcher, chan string) {
	d := NewDispatcher(kv, "http://127.0.0.1:8080", 5*time.Minute)
	urls := make(chan string, 16)
	d.postFn = func(u string) { urls <- u }
	return d, urls
}

func TestDispatchNonceSingleUse(t *testing.T) {
	kv := store.NewMem()
	d, urls := testDispatcher(kv)

	require.NoError(t, d.Dispatch("f1"))

	u, err := url.Parse(<-urls)
	require.NoError(t, err)
	require.Equal(t, "/internal/feeds/continue", u.Path)
	token := u.Query().Get("nonce")
	require.NotEmpty(t, token)
	require.NotEmpty(t, u.Query().Get("t"))

	feedID, ok := d.Consume(token)
	require.True(t, ok)
	require.Equal(t, "f1", feedID)

	// replay must be rejected
	_, ok = d.Consume(token)
	require.False(t, ok)
}

func TestDispatchPendingMarkers(t *testing.T) {
	kv := store.NewMem()
	d, urls := testDispatcher(kv)

	require.NoError(t, d.Dispatch("f1"))
	<-urls
	require.Equal(t, []string{"f1"}, d.PendingFeeds())

	d.ClearPending("f1")
	require.Empty(t, d.PendingFeeds())
}

func TestConsumeClearsPending(t *testing.T) {
	kv := store.NewMem()
	d, urls := testDispatcher(kv)

	require.NoError(t, d.Dispatch("f1"))
	u, err := url.Parse(<-urls)
	require.NoError(t, err)

	_, ok := d.Consume(u.Query().Get("nonce"))
	require.True(t, ok)
	require.Empty(t, d.PendingFeeds())
}

func TestConsumeUnknownToken(t *testing.T) {
	kv := store.NewMem()
	d, _ := testDispatcher(kv)
	_, ok := d.Consume("made-up")
	require.False(t, ok)
}
