package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"feedforge/pkg/logger"
	"feedforge/pkg/store"
)

const (
	feedQueueKey      = "feeds:queue"
	processingFlagKey = "feeds:processing"
	fileGrowKey       = "feeds:filegrow"

	processingFlagTTL = 15 * time.Minute
)

// Controller owns the cross-feed queue: the ordered set of feed ids
// awaiting processing, the advisory is-processing flag and the stuck-feed
// file-growth monitor.
type Controller struct {
	kv         store.KV
	stallDelay time.Duration

	nowFn  func() time.Time
	statFn func(string) (int64, error)
}

// NewController builds a queue controller. stallDelay is how long the
// output file may stop growing before the run is declared stuck.
func NewController(kv store.KV, stallDelay time.Duration) *Controller {
	return &Controller{
		kv:         kv,
		stallDelay: stallDelay,
		nowFn:      time.Now,
		statFn:     fileSize,
	}
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (c *Controller) load() []string {
	data, err := c.kv.Get(feedQueueKey)
	if err != nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil
	}
	return ids
}

func (c *Controller) save(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.kv.Set(feedQueueKey, data)
}

// Enqueue appends a feed id unless already queued (set semantics).
func (c *Controller) Enqueue(id string) error {
	ids := c.load()
	for _, v := range ids {
		if v == id {
			return nil
		}
	}
	return c.save(append(ids, id))
}

// Dequeue removes a feed id. When the queue empties all global run state
// is cleared so a later run starts clean.
func (c *Controller) Dequeue(id string) error {
	ids := c.load()
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if err := c.save(out); err != nil {
		return fmt.Errorf("save feed queue: %w", err)
	}
	if len(out) == 0 {
		c.SetProcessing(false)
		_ = c.kv.Delete(fileGrowKey)
	}
	return nil
}

// PeekNext returns the next feed id in FIFO order.
func (c *Controller) PeekNext() (string, bool) {
	ids := c.load()
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// Snapshot returns the queued feed ids in FIFO order.
func (c *Controller) Snapshot() []string {
	return c.load()
}

// IsEmpty reports whether no feeds are waiting.
func (c *Controller) IsEmpty() bool {
	return len(c.load()) == 0
}

// SetProcessing flips the advisory global processing flag. The flag is
// TTL'd so a crashed run cannot wedge the queue forever.
func (c *Controller) SetProcessing(on bool) {
	if !on {
		_ = c.kv.Delete(processingFlagKey)
		return
	}
	if err := c.kv.SetTTL(processingFlagKey, []byte("1"), processingFlagTTL); err != nil {
		logger.Warn("processing_flag_write_failed", "error", err)
	}
}

// IsProcessing reports the advisory processing flag.
func (c *Controller) IsProcessing() bool {
	_, err := c.kv.Get(processingFlagKey)
	return err == nil
}

type growMarker struct {
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"ts"`
	Path      string    `json:"path"`
}

// FeedProcessingFailed reports whether the output file at path has
// stopped growing for longer than the stall delay. The first call per
// path seeds the marker; the runner must call UpdateFileGrowTimer after
// every successful batch to keep the marker fresh.
func (c *Controller) FeedProcessingFailed(path string) bool {
	size, err := c.statFn(path)
	if err != nil {
		size = 0
	}
	var m growMarker
	data, err := c.kv.Get(fileGrowKey)
	if err != nil || json.Unmarshal([]byte(data), &m) != nil || m.Path != path {
		c.writeGrowMarker(growMarker{Size: size, Timestamp: c.nowFn(), Path: path})
		return false
	}
	if size > m.Size {
		c.writeGrowMarker(growMarker{Size: size, Timestamp: c.nowFn(), Path: path})
		return false
	}
	if c.nowFn().Sub(m.Timestamp) > c.stallDelay {
		_ = c.kv.Delete(fileGrowKey)
		return true
	}
	return false
}

// UpdateFileGrowTimer re-stamps the growth marker so slow but healthy
// batches do not read as stalls.
func (c *Controller) UpdateFileGrowTimer() {
	data, err := c.kv.Get(fileGrowKey)
	if err != nil {
		return
	}
	var m growMarker
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return
	}
	m.Timestamp = c.nowFn()
	c.writeGrowMarker(m)
}

func (c *Controller) writeGrowMarker(m growMarker) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.kv.Set(fileGrowKey, data); err != nil {
		logger.Warn("filegrow_marker_write_failed", "error", err)
	}
}
