package rules

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// EditRule is one value transform, optionally gated by conditions
// evaluated against the full product record.
type EditRule struct {
	Op         string      `json:"o"`
	Args       []string    `json:"args,omitempty"`
	Conditions []Condition `json:"if,omitempty"`
}

// Edit opcodes.
const (
	EditNothing      = "change nothing"
	EditOverwrite    = "overwrite"
	EditReplace      = "replace"
	EditRemove       = "remove"
	EditAddPrefix    = "add prefix"
	EditAddSuffix    = "add suffix"
	EditRecalculate  = "recalculate"
	EditChildElement = "convert to child-element"
	EditStripTags    = "strip tags"
	EditDecodeEntity = "html entity decode"
	EditLimitChars   = "limit characters"
)

// SubTagMarker prefixes values that the XML serializer turns into nested
// child elements: "!sub:name|value".
const SubTagMarker = "!sub:"

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// ApplyEdits runs the edit rules in order. Each rule only fires when its
// conditions hold; when none fire the input passes through unchanged.
// Array values are edited per element.
func ApplyEdits(edits []EditRule, value any, rec Record) any {
	out := value
	for _, e := range edits {
		if !Evaluate(e.Conditions, rec) {
			continue
		}
		out = applyOne(e, out)
	}
	return out
}

func applyOne(e EditRule, value any) any {
	switch v := value.(type) {
	case []string:
		res := make([]string, len(v))
		for i, s := range v {
			res[i] = editString(e, s)
		}
		return res
	case string:
		return editString(e, v)
	default:
		return value
	}
}

func arg(e EditRule, i int) string {
	if i < len(e.Args) {
		return e.Args[i]
	}
	return ""
}

func editString(e EditRule, value string) string {
	switch e.Op {
	case EditNothing, "":
		return value
	case EditOverwrite:
		return arg(e, 0)
	case EditReplace:
		return strings.ReplaceAll(value, arg(e, 0), arg(e, 1))
	case EditRemove:
		return strings.ReplaceAll(value, arg(e, 0), "")
	case EditAddPrefix:
		return arg(e, 0) + value
	case EditAddSuffix:
		return value + arg(e, 0)
	case EditRecalculate:
		return recalculate(arg(e, 0), value, arg(e, 1), arg(e, 2) == "money")
	case EditChildElement:
		name := arg(e, 0)
		if name == "" {
			return value
		}
		return SubTagMarker + name + "|" + value
	case EditStripTags:
		return tagPattern.ReplaceAllString(value, "")
	case EditDecodeEntity:
		return html.UnescapeString(value)
	case EditLimitChars:
		n, err := strconv.Atoi(arg(e, 0))
		if err != nil || n < 0 {
			return value
		}
		r := []rune(value)
		if len(r) <= n {
			return value
		}
		return string(r[:n])
	default:
		return value
	}
}

// recalculate applies basic arithmetic to a value. Non-numeric inputs
// pass through untouched; divide-by-zero yields 0 rather than an error.
func recalculate(op, value, operand string, money bool) string {
	f, ok := ParseLocaleNumber(value)
	if !ok {
		return value
	}
	x, okX := ParseLocaleNumber(operand)
	if !okX {
		return value
	}
	var res float64
	switch op {
	case "add":
		res = f + x
	case "subtract":
		res = f - x
	case "multiply":
		res = f * x
	case "divide":
		if x == 0 {
			res = 0
		} else {
			res = f / x
		}
	default:
		return value
	}
	if money {
		return FormatMoney(res)
	}
	return strconv.FormatFloat(res, 'f', -1, 64)
}
