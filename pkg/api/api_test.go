package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedforge/pkg/catalog"
	"feedforge/pkg/feed"
	"feedforge/pkg/feed/rules"
	"feedforge/pkg/notify"
	"feedforge/pkg/pipeline"
	"feedforge/pkg/state"
	"feedforge/pkg/store"
)

type fakeCatalog struct {
	products map[int64]*catalog.Product
	records  map[int64]rules.Record
}

func (f *fakeCatalog) ListPublishableIDs(ctx context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(f.products))
	for id := range f.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeCatalog) BuildRecord(ctx context.Context, p *catalog.Product) (rules.Record, error) {
	return f.records[p.ID], nil
}

type fixture struct {
	kv  *store.Mem
	srv *Server
	cat *fakeCatalog
}

// newFixture wires a synchronous pipeline so generate requests complete
// inside the request.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	state.PathsVar = state.Paths{Feeds: t.TempDir()}

	kv := store.NewMem()
	cat := &fakeCatalog{
		products: map[int64]*catalog.Product{},
		records:  map[int64]rules.Record{},
	}
	queue := pipeline.NewController(kv, time.Minute)
	locks := pipeline.NewLockManager(kv, time.Minute, 5*time.Minute, 30*time.Second)
	dispatch := pipeline.NewDispatcher(kv, "http://127.0.0.1:0", 5*time.Minute)
	batches := pipeline.NewBatchStore(kv)
	exec := pipeline.NewExecutor(cat)
	runner := pipeline.NewRunner(kv, locks, batches, queue, dispatch, exec, notify.LogOnly{}, pipeline.RunnerConfig{
		TimeBudget:  time.Minute,
		MemoryLimit: 1 << 40,
		LockRefresh: time.Minute,
	})
	prep := pipeline.NewPreparer(kv, batches, queue, dispatch, locks, cat, 50, false)
	prep.SetRunner(runner)

	return &fixture{
		kv:  kv,
		cat: cat,
		srv: &Server{KV: kv, Prep: prep, Runner: runner, Dispatch: dispatch, Queue: queue},
	}
}

func (fx *fixture) addProduct(id int64, title string) {
	fx.cat.products[id] = &catalog.Product{ID: id, Type: catalog.TypeSimple, SKU: fmt.Sprintf("SKU-%d", id)}
	fx.cat.records[id] = rules.Record{
		"sku":           fmt.Sprintf("SKU-%d", id),
		"post_title":    title,
		"regular_price": "19.99",
		"category_path": "Clothing",
	}
}

func testFeedJSON(id string) string {
	f := feed.Feed{
		ID:       id,
		Title:    "Shop Feed",
		FileName: id + ".xml",
		Channel:  "google",
		Attributes: []feed.Attribute{
			{FieldName: "id", AdvisedSource: "sku"},
			{FieldName: "title", AdvisedSource: "post_title"},
			{FieldName: "price", AdvisedSource: "regular_price"},
		},
	}
	b, _ := json.Marshal(f)
	return string(b)
}

func TestFeedSaveAndFetch(t *testing.T) {
	fx := newFixture(t)
	h := fx.srv.Router()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/v1/feeds/f1", strings.NewReader(testFeedJSON("f1"))))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/feeds/f1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var view feedView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, "f1", view.Feed.ID)
	require.Equal(t, feed.StatusReady, view.Status)
}

func TestFeedFetchUnknown(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/feeds/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFeedSaveRejectsInvalid(t *testing.T) {
	fx := newFixture(t)
	h := fx.srv.Router()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/v1/feeds/f1", strings.NewReader("{not json")))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// no attributes
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/v1/feeds/f1", strings.NewReader(`{"file_name":"f1.xml","channel":"google"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGenerateSynchronous(t *testing.T) {
	fx := newFixture(t)
	fx.addProduct(1, "Blue Shirt")
	fx.addProduct(2, "Red Shirt")
	h := fx.srv.Router()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/v1/feeds/f1", strings.NewReader(testFeedJSON("f1"))))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/feeds/f1/generate", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "finished")

	out, err := os.ReadFile(state.FeedFilePath("f1.xml"))
	require.NoError(t, err)
	require.Contains(t, string(out), "<rss")
	require.Contains(t, string(out), "Blue Shirt")
	require.Contains(t, string(out), "Red Shirt")
	require.Contains(t, string(out), "</rss>")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/feeds/f1", nil))
	var view feedView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, feed.StatusReady, view.Status)
	require.Equal(t, 2, view.Counts.Processed)
}

func TestGenerateUnknownFeed(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/feeds/nope/generate", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestQueueState(t *testing.T) {
	fx := newFixture(t)
	h := fx.srv.Router()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":[],"processing":false}`, rr.Body.String())

	require.NoError(t, fx.srv.Queue.Enqueue("f9"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.JSONEq(t, `{"queue":["f9"],"processing":false}`, rr.Body.String())
}

func TestContinueRejectsBadNonce(t *testing.T) {
	fx := newFixture(t)
	h := fx.srv.Router()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/feeds/continue", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/feeds/continue?nonce=bogus", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestContinueNonceIsSingleUse(t *testing.T) {
	fx := newFixture(t)
	h := fx.srv.Router()

	require.NoError(t, fx.srv.Dispatch.Dispatch("f1"))
	keys, err := fx.kv.ListKeys("dispatch:nonce:")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	token := strings.TrimPrefix(keys[0], "dispatch:nonce:")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/feeds/continue?nonce="+token, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	// replay must not start another worker
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/feeds/continue?nonce="+token, nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
}
