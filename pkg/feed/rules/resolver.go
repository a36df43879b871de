package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Selector kinds. A selector names where an attribute value comes from.
const (
	SourceColumn   = "column"   // a record column
	SourceStatic   = "static"   // a literal string
	SourceCombined = "combined" // several columns/literals joined by separators
	SourceCategory = "category" // the pre-computed mapped category
)

// Selector is one conditional source inside an attribute rule. The last
// selector of a rule acts as the unconditional "for all other products"
// fallback.
type Selector struct {
	Kind       string      `json:"type"`
	Column     string      `json:"column,omitempty"`
	Static     string      `json:"static,omitempty"`
	Combined   string      `json:"spec,omitempty"`
	Conditions []Condition `json:"if,omitempty"`
}

// ValueTree is the decoded form of an attribute rule's JSON value:
// ordered source selectors (m) and ordered edit rules (v).
type ValueTree struct {
	Sources []Selector `json:"m,omitempty"`
	Edits   []EditRule `json:"v,omitempty"`
}

// DecodeValueTree parses the JSON rule language once at the boundary.
// An empty string is a valid "no rule" tree (nil).
func DecodeValueTree(raw string) (*ValueTree, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var t ValueTree
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("invalid attribute rule: %w", err)
	}
	return &t, nil
}

// separators indexed by the sepId used in combined source specs.
var separators = []string{
	"",   // 0: none
	" ",  // 1: space
	",",  // 2: comma
	".",  // 3: period
	";",  // 4: semicolon
	":",  // 5: colon
	"-",  // 6: dash
	"/",  // 7: slash
	"\\", // 8: backslash
	"||", // 9: double pipe
	"_",  // 10: underscore
	">",  // 11: greater-than
}

// Separator returns the separator string for a combined-source sepId.
func Separator(id int) string {
	if id < 0 || id >= len(separators) {
		return " "
	}
	return separators[id]
}

// ResolveRequest carries everything needed to compute one output
// attribute for one product.
type ResolveRequest struct {
	Field    string
	Tree     *ValueTree
	Advised  string
	Record   Record
	Category string
	// CategoryField is the channel's designated main category attribute;
	// resolving it short-circuits to the pre-computed category.
	CategoryField string
	// Relation maps attribute names to record columns when a rule names
	// neither sources nor an advised column.
	Relation map[string]string
}

// Engine is the field-value resolution engine. It is stateless;
// construct one and share it.
type Engine struct{}

// NewEngine returns a resolution engine.
func NewEngine() *Engine { return &Engine{} }

// Resolve computes the output value for one feed attribute. The result
// is a string, or []string when a combined source crossed an array
// column.
func (e *Engine) Resolve(req ResolveRequest) any {
	if req.Field == req.CategoryField && req.CategoryField != "" {
		return req.Category
	}

	var value any
	switch {
	case req.Tree != nil && len(req.Tree.Sources) > 0:
		value = e.resolveSources(req)
	default:
		col := req.Advised
		if col == "" {
			col = req.Relation[req.Field]
		}
		value = req.Record.Value(col)
	}

	if req.Tree != nil && len(req.Tree.Edits) > 0 {
		value = ApplyEdits(req.Tree.Edits, value, req.Record)
	}
	return value
}

// resolveSources walks the selectors in order and takes the first whose
// condition holds; when none match, the last selector applies
// unconditionally.
func (e *Engine) resolveSources(req ResolveRequest) any {
	sources := req.Tree.Sources
	for _, sel := range sources {
		if len(sel.Conditions) == 0 || Evaluate(sel.Conditions, req.Record) {
			return e.resolveSelector(sel, req)
		}
	}
	return e.resolveSelector(sources[len(sources)-1], req)
}

func (e *Engine) resolveSelector(sel Selector, req ResolveRequest) any {
	switch sel.Kind {
	case SourceStatic:
		return sel.Static
	case SourceCombined:
		return e.resolveCombined(sel.Combined, req.Record)
	case SourceCategory:
		return req.Category
	default:
		return req.Record.Value(sel.Column)
	}
}

// combinedPart is one "|"-separated element of a combined source spec:
// "static#literal", "<sepId>#column", or a bare column name.
type combinedPart struct {
	sep    string
	static string
	column string
}

func parseCombined(spec string) []combinedPart {
	raw := strings.Split(spec, "|")
	parts := make([]combinedPart, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			continue
		}
		head, tail, found := strings.Cut(p, "#")
		switch {
		case !found:
			parts = append(parts, combinedPart{sep: " ", column: p})
		case head == "static":
			parts = append(parts, combinedPart{static: tail})
		default:
			id, err := strconv.Atoi(head)
			if err != nil {
				parts = append(parts, combinedPart{sep: " ", column: p})
				continue
			}
			parts = append(parts, combinedPart{sep: Separator(id), column: tail})
		}
	}
	return parts
}

// resolveCombined joins the parts of a combined source. When any
// referenced column holds an array the combination is computed once per
// index and the result is an array.
func (e *Engine) resolveCombined(spec string, rec Record) any {
	parts := parseCombined(spec)
	if len(parts) == 0 {
		return ""
	}

	width := 1
	isArray := false
	for _, p := range parts {
		if p.column == "" {
			continue
		}
		if vs, ok := rec[p.column].([]string); ok {
			isArray = true
			if len(vs) > width {
				width = len(vs)
			}
		}
	}

	combineAt := func(idx int) string {
		var b strings.Builder
		for i, p := range parts {
			var v string
			if p.column != "" {
				switch cv := rec[p.column].(type) {
				case []string:
					if idx < len(cv) {
						v = cv[idx]
					}
				case string:
					v = cv
				}
			} else {
				v = p.static
			}
			if v == "" {
				continue
			}
			if i > 0 && b.Len() > 0 {
				b.WriteString(p.sep)
			}
			b.WriteString(v)
		}
		return b.String()
	}

	if !isArray {
		return combineAt(0)
	}
	out := make([]string, width)
	for i := 0; i < width; i++ {
		out[i] = combineAt(i)
	}
	return out
}
