package render

import (
	"strings"

	"feedforge/pkg/feed"
	"feedforge/pkg/feed/rules"
)

// CSV renders one product per row. Every field is double-quoted unless
// the channel opts out of quoting empty fields; embedded double quotes
// become single quotes so rows stay parseable without quote doubling.
type CSV struct {
	Channel  feed.ChannelDetails
	ArraySep string
}

func (c *CSV) Item(fields []Field) string {
	cells := make([]string, len(fields))
	for i, f := range fields {
		cells[i] = c.cell(f.Value)
	}
	return strings.Join(cells, ",") + "\n"
}

func (c *CSV) cell(v any) string {
	vals := values(v)
	for i, s := range vals {
		vals[i] = stripSubMarker(s)
	}
	s := strings.Join(vals, c.ArraySep)
	s = strings.ReplaceAll(s, `"`, "'")
	if s == "" && !c.Channel.QuoteEmptyCSV {
		return ""
	}
	return `"` + s + `"`
}

// stripSubMarker unwraps "!sub:name|value" to its value; the child
// element structure only exists in XML output.
func stripSubMarker(s string) string {
	if !strings.HasPrefix(s, rules.SubTagMarker) {
		return s
	}
	rest := strings.TrimPrefix(s, rules.SubTagMarker)
	if _, value, ok := strings.Cut(rest, "|"); ok {
		return value
	}
	return rest
}
