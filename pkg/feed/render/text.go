package render

import (
	"regexp"
	"strings"
)

var (
	htmlTags = regexp.MustCompile(`<[^>]*>`)
	newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// Text renders tab- or custom-separated rows: tags stripped, newlines
// flattened, trailing separator trimmed, CRLF row terminator.
type Text struct {
	Sep string
}

func (t *Text) Item(fields []Field) string {
	cells := make([]string, 0, len(fields))
	for _, f := range fields {
		s := strings.Join(values(f.Value), " ")
		s = stripSubMarker(s)
		s = htmlTags.ReplaceAllString(s, "")
		s = newlines.Replace(s)
		cells = append(cells, strings.TrimSpace(s))
	}
	row := strings.Join(cells, t.Sep)
	// TrimSuffix, not TrimRight: a multi-character separator is a
	// suffix, not a cutset
	row = strings.TrimSuffix(row, t.Sep)
	return row + "\r\n"
}
