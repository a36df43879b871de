package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"feedforge/pkg/feed"
	"feedforge/pkg/store"
)

const (
	batchPrefix  = "queue:batch:"
	metaPrefix   = "queue:meta:"
	activeRunKey = "queue:active"
)

// Batch is one stored slice of work items belonging to a run.
type Batch struct {
	Key    string          `json:"-"`
	RunKey string          `json:"run_key"`
	Items  []feed.WorkItem `json:"items"`
}

// BatchStore persists batches and run metadata in the KV store. Batch
// keys embed a nanosecond stamp and a sequence number so the store's
// sorted iteration yields oldest-first order.
type BatchStore struct {
	kv  store.KV
	seq atomic.Uint64

	nowFn func() time.Time
}

// NewBatchStore wraps a KV store.
func NewBatchStore(kv store.KV) *BatchStore {
	return &BatchStore{kv: kv, nowFn: time.Now}
}

func (s *BatchStore) batchKey() string {
	return fmt.Sprintf("%s%020d-%06d-%s",
		batchPrefix, s.nowFn().UnixNano(), s.seq.Add(1), uuid.NewString()[:8])
}

// Save writes the run metadata, all batches and the active-run pointer.
func (s *BatchStore) Save(meta feed.RunMeta, groups [][]feed.WorkItem) error {
	md, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode run meta: %w", err)
	}
	if err := s.kv.Set(metaPrefix+meta.RunKey, md); err != nil {
		return fmt.Errorf("save run meta: %w", err)
	}
	for _, items := range groups {
		b := Batch{RunKey: meta.RunKey, Items: items}
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode batch: %w", err)
		}
		if err := s.kv.Set(s.batchKey(), data); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
	}
	if err := s.kv.Set(activeRunKey, []byte(meta.RunKey)); err != nil {
		return fmt.Errorf("save active run pointer: %w", err)
	}
	return nil
}

// OldestBatch returns the first stored batch, or ErrQueueEmpty.
func (s *BatchStore) OldestBatch() (*Batch, error) {
	keys, err := s.kv.ListKeys(batchPrefix)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	if len(keys) == 0 {
		return nil, ErrQueueEmpty
	}
	data, err := s.kv.Get(keys[0])
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", keys[0], err)
	}
	var b Batch
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", keys[0], err)
	}
	b.Key = keys[0]
	return &b, nil
}

// Update rewrites a batch in place, keeping its key and queue position.
func (s *BatchStore) Update(b *Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	return s.kv.Set(b.Key, data)
}

// Delete removes a fully consumed batch.
func (s *BatchStore) Delete(key string) error {
	return s.kv.Delete(key)
}

// IsEmpty reports whether no batches remain.
func (s *BatchStore) IsEmpty() (bool, error) {
	keys, err := s.kv.ListKeys(batchPrefix)
	if err != nil {
		return false, err
	}
	return len(keys) == 0, nil
}

// Meta loads the metadata record of a run. A missing record is loud:
// batches without metadata cannot be processed and the run must abort.
func (s *BatchStore) Meta(runKey string) (feed.RunMeta, error) {
	data, err := s.kv.Get(metaPrefix + runKey)
	if errors.Is(err, store.ErrNotFound) {
		return feed.RunMeta{}, ErrMissingMeta
	}
	if err != nil {
		return feed.RunMeta{}, fmt.Errorf("load run meta %s: %w", runKey, err)
	}
	var meta feed.RunMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return feed.RunMeta{}, fmt.Errorf("decode run meta %s: %w", runKey, err)
	}
	return meta, nil
}

// ActiveRun returns the current active run key, empty when none.
func (s *BatchStore) ActiveRun() string {
	data, err := s.kv.Get(activeRunKey)
	if err != nil {
		return ""
	}
	return data
}

// Clear removes all batches, the run metadata and the active pointer.
// Used on completion and on run failure.
func (s *BatchStore) Clear(runKey string) {
	if keys, err := s.kv.ListKeys(batchPrefix); err == nil {
		for _, k := range keys {
			_ = s.kv.Delete(k)
		}
	}
	_ = s.kv.Delete(metaPrefix + runKey)
	_ = s.kv.Delete(activeRunKey)
}
