package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"feedforge/pkg/feed"
	"feedforge/pkg/store"
)

// ErrFeedNotFound is returned when no configuration is registered for a
// feed id.
var ErrFeedNotFound = errors.New("feed not registered")

func feedConfigKey(id string) string { return "feed:" + id + ":config" }
func feedStatusKey(id string) string { return "feed:" + id + ":status" }
func runCountsKey(id string) string  { return "run:" + id + ":counts" }
func runLedgerKey(id string) string  { return "run:" + id + ":written" }

// SaveFeed registers or replaces a feed configuration.
func SaveFeed(kv store.KV, f feed.Feed) error {
	if err := feed.Validate(f); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode feed %s: %w", f.ID, err)
	}
	return kv.Set(feedConfigKey(f.ID), data)
}

// LoadFeed returns a registered feed configuration.
func LoadFeed(kv store.KV, id string) (feed.Feed, error) {
	data, err := kv.Get(feedConfigKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return feed.Feed{}, ErrFeedNotFound
	}
	if err != nil {
		return feed.Feed{}, fmt.Errorf("load feed %s: %w", id, err)
	}
	var f feed.Feed
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return feed.Feed{}, fmt.Errorf("decode feed %s: %w", id, err)
	}
	return f, nil
}

// SetStatus persists a feed's run status.
func SetStatus(kv store.KV, id, status string) error {
	return kv.Set(feedStatusKey(id), []byte(status))
}

// GetStatus returns a feed's persisted status, defaulting to ready.
func GetStatus(kv store.KV, id string) string {
	data, err := kv.Get(feedStatusKey(id))
	if err != nil {
		return feed.StatusReady
	}
	return data
}

// Counts tracks per-run item outcomes, surfaced by the status API.
type Counts struct {
	Processed int `json:"processed"`
	Filtered  int `json:"filtered"`
	Skipped   int `json:"skipped"`
}

// SaveCounts persists the per-run counters.
func SaveCounts(kv store.KV, feedID string, c Counts) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return kv.Set(runCountsKey(feedID), data)
}

// LoadCounts returns the per-run counters, zero when absent.
func LoadCounts(kv store.KV, feedID string) Counts {
	var c Counts
	if data, err := kv.Get(runCountsKey(feedID)); err == nil {
		_ = json.Unmarshal([]byte(data), &c)
	}
	return c
}

// Ledger is the processed-products set of the current run, used to skip
// items that reappear across re-dispatches. Persistence is best effort:
// a comma-joined string written after each batch, not transactionally
// tied to item completion.
type Ledger struct {
	ids map[int64]bool
}

// LoadLedger reads the ledger for a feed run.
func LoadLedger(kv store.KV, feedID string) *Ledger {
	l := &Ledger{ids: make(map[int64]bool)}
	data, err := kv.Get(runLedgerKey(feedID))
	if err != nil {
		return l
	}
	for _, part := range strings.Split(data, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			l.ids[id] = true
		}
	}
	return l
}

// Has reports whether a product was already written this run.
func (l *Ledger) Has(id int64) bool { return l.ids[id] }

// Add marks a product as written.
func (l *Ledger) Add(id int64) { l.ids[id] = true }

// Save persists the ledger.
func (l *Ledger) Save(kv store.KV, feedID string) error {
	parts := make([]string, 0, len(l.ids))
	for id := range l.ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return kv.Set(runLedgerKey(feedID), []byte(strings.Join(parts, ",")))
}

// ClearLedger drops the processed-products set; the counters stay so
// the status API can report the finished run.
func ClearLedger(kv store.KV, feedID string) {
	_ = kv.Delete(runLedgerKey(feedID))
}

// ClearRunState removes the per-run ledger and counters for a feed.
func ClearRunState(kv store.KV, feedID string) {
	_ = kv.Delete(runLedgerKey(feedID))
	_ = kv.Delete(runCountsKey(feedID))
}
