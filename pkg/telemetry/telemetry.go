// Package telemetry records slow run slices as JSON lines for offline
// inspection. Fast slices are not recorded; the hot path stays cheap.
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"feedforge/pkg/state"
)

var slowThreshold = 10 * time.Second

type sliceEntry struct {
	TS       string `json:"ts"`
	FeedID   string `json:"feed_id"`
	Duration int64  `json:"duration_ms"`
}

var (
	writerOnce sync.Once
	writerCh   chan []byte
)

// initWriter lazily starts a background writer appending JSON lines to
// <state>/telemetry/slices.jsonl.
func initWriter() {
	writerCh = make(chan []byte, 256)
	go func() {
		dir := filepath.Join("state", "telemetry")
		if state.PathsVar.State != "" {
			dir = filepath.Join(state.PathsVar.State, "telemetry")
		}
		_ = os.MkdirAll(dir, 0o755)
		f, err := os.OpenFile(filepath.Join(dir, "slices.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		for b := range writerCh {
			_, _ = f.Write(append(b, '\n'))
		}
	}()
}

// SetSlowThreshold adjusts the duration above which slices are recorded.
func SetSlowThreshold(d time.Duration) {
	if d > 0 {
		slowThreshold = d
	}
}

// SliceEnd observes one finished run slice. Matches the runner's
// OnSliceEnd hook.
func SliceEnd(feedID string, d time.Duration) {
	if d < slowThreshold {
		return
	}
	writerOnce.Do(initWriter)
	b, err := json.Marshal(sliceEntry{
		TS:       time.Now().UTC().Format(time.RFC3339),
		FeedID:   feedID,
		Duration: d.Milliseconds(),
	})
	if err != nil {
		return
	}
	select {
	case writerCh <- b:
	default:
		// drop rather than block a worker on telemetry
	}
}
