package pipeline

import (
	"context"
	"errors"
	"strings"

	"feedforge/pkg/catalog"
	"feedforge/pkg/feed"
	"feedforge/pkg/feed/render"
	"feedforge/pkg/feed/rules"
	"feedforge/pkg/logger"
)

// Result is the outcome of executing one work item.
type Result string

const (
	ResultAdded    Result = "product added"
	ResultFiltered Result = "filtered"
	ResultSkipped  Result = "skipped"
)

// ProductSource is the read side of the catalog the executor needs.
type ProductSource interface {
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
	BuildRecord(ctx context.Context, p *catalog.Product) (rules.Record, error)
}

// ItemHook lets embedders adjust the resolved fields of a product just
// before serialization.
type ItemHook func(feedID string, fields []render.Field) []render.Field

// Executor turns one work item into feed file content. No error escapes
// a single item: failures are logged against the feed and reported as a
// skipped result so the batch loop keeps going.
type Executor struct {
	source ProductSource
	engine *rules.Engine

	// Hook is optional; nil means fields pass through unchanged.
	Hook ItemHook
}

// NewExecutor builds a task executor over a product source.
func NewExecutor(source ProductSource) *Executor {
	return &Executor{source: source, engine: rules.NewEngine()}
}

// Task processes one work item and returns the rendered line (empty for
// non-added results) and the outcome.
func (e *Executor) Task(ctx context.Context, item feed.WorkItem, meta *feed.RunMeta, ser render.Serializer) (string, Result) {
	switch item.Kind {
	case feed.ItemFormatLine:
		return feed.RestoreLine(item.Line) + "\n", ResultAdded
	case feed.ItemErrorMessage:
		return item.Message + "\n", ResultAdded
	case feed.ItemProduct:
		return e.product(ctx, item.ProductID, meta, ser)
	default:
		logger.Feed(meta.Feed.ID, logger.SevWarning, "work item without kind dropped")
		return "", ResultSkipped
	}
}

func (e *Executor) product(ctx context.Context, id int64, meta *feed.RunMeta, ser render.Serializer) (string, Result) {
	p, err := e.source.GetProduct(ctx, id)
	if err != nil {
		sev := logger.SevError
		if errors.Is(err, catalog.ErrProductNotFound) {
			sev = logger.SevWarning
		}
		logger.Feed(meta.Feed.ID, sev, "product load failed", "product_id", id, "error", err)
		return "", ResultSkipped
	}
	if p.Type == catalog.TypeGrouped {
		// grouped products have no independent sellable price or identity
		logger.Feed(meta.Feed.ID, logger.SevInfo, "grouped product excluded", "product_id", id)
		return "", ResultSkipped
	}

	rec, err := e.source.BuildRecord(ctx, p)
	if err != nil {
		logger.Feed(meta.Feed.ID, logger.SevError, "record assembly failed", "product_id", id, "error", err)
		return "", ResultSkipped
	}

	category := meta.Feed.MapCategory(rec.String("category_path"))
	if category == "" {
		logger.Feed(meta.Feed.ID, logger.SevError, "no category resolved", "product_id", id)
		return "", ResultSkipped
	}

	if !rules.Evaluate(meta.Feed.Filters, rec) {
		return "", ResultFiltered
	}

	fields := e.resolveFields(meta, rec, category)
	if len(fields) == 0 {
		logger.Feed(meta.Feed.ID, logger.SevWarning, "product produced no content", "product_id", id)
		return "", ResultSkipped
	}
	if e.Hook != nil {
		fields = e.Hook(meta.Feed.ID, fields)
	}
	return ser.Item(fields), ResultAdded
}

// resolveFields computes every active attribute through the resolution
// engine and applies the channel-specific output quirks.
func (e *Executor) resolveFields(meta *feed.RunMeta, rec rules.Record, category string) []render.Field {
	active := meta.Feed.ActiveFields
	if len(active) == 0 {
		for _, a := range meta.Feed.Attributes {
			active = append(active, a.FieldName)
		}
	}

	isXML := meta.Feed.Format() == "xml"
	fields := make([]render.Field, 0, len(active))
	hasContent := false
	for _, name := range active {
		attr, _ := meta.Feed.Attribute(name)
		tree, err := rules.DecodeValueTree(attr.Value)
		if err != nil {
			logger.Feed(meta.Feed.ID, logger.SevWarning, "attribute rule ignored", "field", name, "error", err)
		}
		val := e.engine.Resolve(rules.ResolveRequest{
			Field:         name,
			Tree:          tree,
			Advised:       attr.AdvisedSource,
			Record:        rec,
			Category:      category,
			CategoryField: meta.Channel.CategoryField,
			Relation:      meta.Relation,
		})

		if isXML && isZeroMoney(name, val) {
			continue
		}

		if name == "DraftImages" {
			f := expandImages(meta.Channel, val)
			if len(f.Value.([]string)) > 0 {
				hasContent = true
				fields = append(fields, f)
			}
			continue
		}

		if meta.Channel.IsCapped(name) {
			val = capTokens(val)
		}

		if !isEmptyValue(val) {
			hasContent = true
		}
		fields = append(fields, render.Field{Key: name, Value: val})
	}
	if !hasContent {
		return nil
	}
	return fields
}

// isZeroMoney reports whether a price-like field resolved to zero; such
// fields are suppressed from XML output entirely.
func isZeroMoney(field string, val any) bool {
	if !strings.Contains(strings.ToLower(field), "price") {
		return false
	}
	s, ok := val.(string)
	if !ok {
		return false
	}
	f, numeric := rules.ParseLocaleNumber(s)
	return numeric && f == 0
}

// expandImages maps the multi-image key onto the channel's additional
// image field, bounded by the channel's slot count.
func expandImages(ch feed.ChannelDetails, val any) render.Field {
	var urls []string
	switch v := val.(type) {
	case string:
		if v != "" {
			urls = []string{v}
		}
	case []string:
		urls = v
	}
	max := ch.MaxImages
	if max <= 0 {
		max = 10
	}
	if len(urls) > max {
		urls = urls[:max]
	}
	key := "additional_image_link"
	if ch.ImageField != "" && ch.ImageField != "image_link" {
		key = ch.ImageField
	}
	return render.Field{Key: key, Value: urls}
}

// capTokens trims comma-separated channel fields (material, color) to at
// most three tokens joined with a slash.
func capTokens(val any) any {
	s, ok := val.(string)
	if !ok {
		return val
	}
	parts := strings.Split(s, ",")
	if len(parts) <= 1 {
		return s
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, "/")
}

func isEmptyValue(val any) bool {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				return false
			}
		}
		return true
	default:
		return val == nil
	}
}
