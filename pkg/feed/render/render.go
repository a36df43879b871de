// Package render turns resolved product fields into feed file lines.
// Serializers only ever append; truncation never happens mid-run.
package render

import (
	"path/filepath"
	"strings"

	"feedforge/pkg/feed"
)

// Field is one resolved output column in feed order. Value is a string
// or a []string for multi-valued attributes.
type Field struct {
	Key   string
	Value any
}

// Serializer renders one product into the line(s) appended to the feed
// file for it.
type Serializer interface {
	Item(fields []Field) string
}

// ForPath selects the serializer from the output file's extension.
// Unknown extensions render as separator-joined text; tsv is always
// tab-separated, txt honors the feed's configured separator.
func ForPath(path string, ch feed.ChannelDetails, arraySep, textSep string) Serializer {
	if arraySep == "" {
		arraySep = "|"
	}
	if textSep == "" {
		textSep = "\t"
	}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "xml":
		return &XML{Channel: ch}
	case "csv":
		return &CSV{Channel: ch, ArraySep: arraySep}
	case "tsv":
		return &Text{Sep: "\t"}
	default:
		return &Text{Sep: textSep}
	}
}

func values(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case nil:
		return nil
	default:
		return nil
	}
}
