package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedforge/pkg/feed"
	"feedforge/pkg/logger"
	"feedforge/pkg/state"
	"feedforge/pkg/store"
)

// IDLister enumerates the catalog ids eligible for feed inclusion.
type IDLister interface {
	ListPublishableIDs(ctx context.Context) ([]int64, error)
}

// Preparer turns a registered feed into a queued run: output file reset,
// header and footer literals, product enumeration, batching and the
// first dispatch.
type Preparer struct {
	kv        store.KV
	batches   *BatchStore
	queue     *Controller
	dispatch  *Dispatcher
	locks     *LockManager
	lister    IDLister
	batchSize int
	// Background selects fire-and-forget dispatch versus processing the
	// whole feed in the caller's request.
	Background bool

	runner *Runner
}

// NewPreparer wires a run preparer.
func NewPreparer(kv store.KV, batches *BatchStore, queue *Controller, dispatch *Dispatcher, locks *LockManager, lister IDLister, batchSize int, background bool) *Preparer {
	return &Preparer{
		kv:         kv,
		batches:    batches,
		queue:      queue,
		dispatch:   dispatch,
		locks:      locks,
		lister:     lister,
		batchSize:  batchSize,
		Background: background,
	}
}

// SetRunner attaches the runner used for synchronous mode and for
// advancing the queue.
func (p *Preparer) SetRunner(r *Runner) {
	p.runner = r
	r.StartNext = func(feedID string, unattended bool) {
		if err := p.Start(context.Background(), feedID, unattended); err != nil {
			logger.Feed(feedID, logger.SevError, "next feed start failed", "error", err)
		}
	}
}

// Start begins a run for a feed. When another feed is mid-run the feed
// stays queued and starts once the active run finalizes.
func (p *Preparer) Start(ctx context.Context, feedID string, unattended bool) error {
	f, err := LoadFeed(p.kv, feedID)
	if err != nil {
		return err
	}
	if err := p.queue.Enqueue(feedID); err != nil {
		return fmt.Errorf("enqueue feed: %w", err)
	}

	// a held lock or a live heartbeat means a run owns the pipeline right
	// now; re-preparing would truncate its output file mid-write and
	// leave its batches to collide with the new run's
	if p.locks.IsRunning("") {
		if GetStatus(p.kv, feedID) != feed.StatusProcessing {
			if err := SetStatus(p.kv, feedID, feed.StatusQueued); err != nil {
				return err
			}
		}
		logger.Feed(feedID, logger.SevInfo, "run in progress, feed stays queued")
		return nil
	}

	if p.queue.IsProcessing() && p.batches.ActiveRun() != "" {
		if next, _ := p.queue.PeekNext(); next != feedID {
			if err := SetStatus(p.kv, feedID, feed.StatusQueued); err != nil {
				return err
			}
			logger.Feed(feedID, logger.SevInfo, "feed queued behind active run")
			return nil
		}
	}

	ids, err := p.lister.ListPublishableIDs(ctx)
	if err != nil {
		return fmt.Errorf("enumerate products: %w", err)
	}

	path := state.FeedFilePath(f.FileName)
	// a run always starts from an empty file; appending happens only
	// within the run
	if err := truncateFile(path); err != nil {
		return err
	}

	ch := feed.Channel(f.Channel)
	meta := feed.RunMeta{
		RunKey:     uuid.NewString(),
		Feed:       f,
		FilePath:   path,
		Channel:    ch,
		Relation:   feed.DefaultRelation(),
		Unattended: unattended,
		StartedAt:  time.Now(),
	}

	items := make([]feed.WorkItem, 0, len(ids)+8)
	for _, line := range headerLines(f, ch) {
		items = append(items, feed.FormatLine(feed.MaskLine(line)))
	}
	for _, id := range ids {
		items = append(items, feed.ProductItem(id))
	}
	for _, line := range footerLines(f) {
		items = append(items, feed.FormatLine(feed.MaskLine(line)))
	}

	// a dead run can leave batches and a ledger behind; none of it may
	// leak into the new run
	if old := p.batches.ActiveRun(); old != "" {
		if m, err := p.batches.Meta(old); err == nil && m.Feed.ID != feedID {
			ClearRunState(p.kv, m.Feed.ID)
		}
		p.batches.Clear(old)
	}
	ClearRunState(p.kv, feedID)
	if err := p.batches.Save(meta, splitBatches(items, p.batchSize)); err != nil {
		return err
	}
	if err := SetStatus(p.kv, feedID, feed.StatusProcessing); err != nil {
		return err
	}
	p.queue.SetProcessing(true)
	logger.Feed(feedID, logger.SevInfo, "run prepared",
		"products", len(ids), "batch_size", p.batchSize, "background", p.Background)

	if p.Background {
		return p.dispatch.Dispatch(feedID)
	}
	if p.runner == nil {
		return fmt.Errorf("synchronous mode without a runner")
	}
	return p.runner.RunSlice(ctx, feedID)
}

func truncateFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reset feed file: %w", err)
	}
	return f.Close()
}

// splitBatches slices items into groups of at most size, preserving
// order.
func splitBatches(items []feed.WorkItem, size int) [][]feed.WorkItem {
	if size <= 0 {
		size = 200
	}
	var out [][]feed.WorkItem
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func headerLines(f feed.Feed, ch feed.ChannelDetails) []string {
	switch f.Format() {
	case "xml":
		return []string{
			`<?xml version="1.0" encoding="UTF-8"?>`,
			`<rss version="2.0" xmlns:g="http://base.google.com/ns/1.0">`,
			`<channel>`,
			fmt.Sprintf("<title>%s</title>", f.Title),
		}
	case "csv":
		cols := activeColumns(f)
		for i, c := range cols {
			cols[i] = `"` + c + `"`
		}
		return []string{strings.Join(cols, ",")}
	case "tsv":
		return []string{strings.Join(activeColumns(f), "\t")}
	case "txt":
		return []string{strings.Join(activeColumns(f), f.TextSep())}
	default:
		return nil
	}
}

func footerLines(f feed.Feed) []string {
	if f.Format() == "xml" {
		return []string{`</channel>`, `</rss>`}
	}
	return nil
}

func activeColumns(f feed.Feed) []string {
	if len(f.ActiveFields) > 0 {
		return append([]string(nil), f.ActiveFields...)
	}
	cols := make([]string, 0, len(f.Attributes))
	for _, a := range f.Attributes {
		cols = append(cols, a.FieldName)
	}
	return cols
}
