package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"feedforge/pkg/logger"
	"feedforge/pkg/store"
)

const (
	noncePrefix   = "dispatch:nonce:"
	pendingPrefix = "dispatch:pending:"

	dispatchTimeout = 2 * time.Second
)

// Dispatcher hands the pipeline to a fresh request: it mints a
// single-use nonce, records a pending marker for the watchdog and fires
// a loopback continuation POST without waiting for the response body.
type Dispatcher struct {
	kv       store.KV
	baseURL  string
	nonceTTL time.Duration

	client *fasthttp.Client
	postFn func(url string)
}

// NewDispatcher builds a dispatcher posting to baseURL.
func NewDispatcher(kv store.KV, baseURL string, nonceTTL time.Duration) *Dispatcher {
	d := &Dispatcher{
		kv:       kv,
		baseURL:  strings.TrimRight(baseURL, "/"),
		nonceTTL: nonceTTL,
		client: &fasthttp.Client{
			MaxIdleConnDuration: 30 * time.Second,
		},
	}
	d.postFn = d.loopbackPost
	return d
}

// Dispatch requests a new processing slice for a feed. The HTTP call is
// fire-and-forget: failures are logged and left for the watchdog, which
// restarts feeds whose pending marker never got consumed.
func (d *Dispatcher) Dispatch(feedID string) error {
	token := uuid.NewString()
	if err := d.kv.SetTTL(noncePrefix+token, []byte(feedID), d.nonceTTL); err != nil {
		return fmt.Errorf("store dispatch nonce: %w", err)
	}
	stamp := fmt.Sprintf("%d", time.Now().UnixNano())
	if err := d.kv.SetTTL(pendingPrefix+feedID, []byte(stamp), d.nonceTTL); err != nil {
		return fmt.Errorf("store pending marker: %w", err)
	}
	metricDispatches.Inc()

	// cache-busting stamp keeps intermediaries from replaying a cached
	// response instead of reaching the handler
	url := fmt.Sprintf("%s/internal/feeds/continue?nonce=%s&t=%s", d.baseURL, token, stamp)
	go d.postFn(url)
	return nil
}

func (d *Dispatcher) loopbackPost(url string) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	if err := d.client.DoTimeout(req, resp, dispatchTimeout); err != nil {
		logger.Debug("dispatch_post_failed", "error", err)
	}
}

// Consume validates and burns a dispatch nonce, returning the feed id it
// was minted for. A replayed or expired token returns false.
func (d *Dispatcher) Consume(token string) (string, bool) {
	data, err := d.kv.Get(noncePrefix + token)
	if err != nil {
		return "", false
	}
	feedID := data
	_ = d.kv.Delete(noncePrefix + token)
	_ = d.kv.Delete(pendingPrefix + feedID)
	return feedID, true
}

// ClearPending drops the pending marker for a feed.
func (d *Dispatcher) ClearPending(feedID string) {
	_ = d.kv.Delete(pendingPrefix + feedID)
}

// PendingFeeds lists feeds with an outstanding continuation request.
func (d *Dispatcher) PendingFeeds() []string {
	keys, err := d.kv.ListKeys(pendingPrefix)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, pendingPrefix))
	}
	return out
}
