package feed

import (
	"strings"

	"feedforge/pkg/feed/rules"
)

// Feed status codes persisted in the KV store.
const (
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusQueued     = "queued"
	StatusError      = "error"
	// StatusErrorRetries marks a feed that kept failing after the watchdog
	// restarted it; operators must intervene.
	StatusErrorRetries = "error_retries"
)

// Attribute describes how one output feed column is computed: a field
// name, an optional JSON rule tree (sources and edits) and an optional
// advised database column used when no rule tree is set.
type Attribute struct {
	FieldName     string `json:"field"`
	Value         string `json:"value,omitempty"`
	AdvisedSource string `json:"advised_source,omitempty"`
}

// CategoryMapping maps a shop category path to a channel category.
type CategoryMapping struct {
	Shop    string `json:"shop"`
	Channel string `json:"channel"`
}

// Feed is the registered configuration of one product feed.
type Feed struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Channel         string            `json:"channel"`
	FileName        string            `json:"file_name"`
	Language        string            `json:"language,omitempty"`
	Currency        string            `json:"currency,omitempty"`
	Country         string            `json:"country,omitempty"`
	Status          string            `json:"status,omitempty"`
	CategoryMap     []CategoryMapping `json:"category_map,omitempty"`
	DefaultCategory string            `json:"default_category,omitempty"`
	Filters         []rules.Condition `json:"filters,omitempty"`
	ActiveFields    []string          `json:"active_fields,omitempty"`
	Attributes      []Attribute       `json:"attributes,omitempty"`
	// ArraySeparator joins array values in delimited formats. Empty means
	// the default "|".
	ArraySeparator string `json:"array_separator,omitempty"`
	// TextSeparator joins columns in txt output. Empty means tab; tsv
	// output always uses tab.
	TextSeparator string `json:"text_separator,omitempty"`
}

// TextSep returns the txt column separator, defaulting to tab.
func (f Feed) TextSep() string {
	if f.TextSeparator == "" {
		return "\t"
	}
	return f.TextSeparator
}

// Format returns the output format derived from the file extension,
// lower-cased without the dot ("xml", "csv", "tsv", "txt").
func (f Feed) Format() string {
	i := strings.LastIndexByte(f.FileName, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(f.FileName[i+1:])
}

// Attribute returns the rule for a field name and whether one exists.
func (f Feed) Attribute(field string) (Attribute, bool) {
	for _, a := range f.Attributes {
		if a.FieldName == field {
			return a, true
		}
	}
	return Attribute{}, false
}

// MapCategory resolves a product's shop category path to the channel
// category, falling back to the feed's default category. Longest
// matching shop path wins so subcategory mappings beat their parents.
func (f Feed) MapCategory(shopPath string) string {
	best := ""
	mapped := ""
	for _, m := range f.CategoryMap {
		if m.Shop == "" {
			continue
		}
		if strings.EqualFold(shopPath, m.Shop) || strings.HasPrefix(strings.ToLower(shopPath), strings.ToLower(m.Shop)+" > ") {
			if len(m.Shop) > len(best) {
				best = m.Shop
				mapped = m.Channel
			}
		}
	}
	if mapped == "" {
		return f.DefaultCategory
	}
	return mapped
}
