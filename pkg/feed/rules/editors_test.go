package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyEditsPrefixSuffix(t *testing.T) {
	edits := []EditRule{
		{Op: EditAddPrefix, Args: []string{"X-"}},
		{Op: EditAddSuffix, Args: []string{"-Y"}},
	}
	out := ApplyEdits(edits, "42", Record{})
	require.Equal(t, "X-42-Y", out)
}

func TestApplyEditsConditionGate(t *testing.T) {
	edits := []EditRule{{
		Op:         EditOverwrite,
		Args:       []string{"sale"},
		Conditions: []Condition{{Column: "on_sale", Operator: OpEqual, Operand: "yes"}},
	}}
	require.Equal(t, "regular", ApplyEdits(edits, "regular", Record{"on_sale": "no"}))
	require.Equal(t, "sale", ApplyEdits(edits, "regular", Record{"on_sale": "yes"}))
}

func TestApplyEditsReplaceRemove(t *testing.T) {
	edits := []EditRule{{Op: EditReplace, Args: []string{"cm", "mm"}}}
	require.Equal(t, "10mm", ApplyEdits(edits, "10cm", Record{}))

	edits = []EditRule{{Op: EditRemove, Args: []string{" EUR"}}}
	require.Equal(t, "9.99", ApplyEdits(edits, "9.99 EUR", Record{}))
}

func TestRecalculate(t *testing.T) {
	require.Equal(t, "15", recalculate("add", "10", "5", false))
	require.Equal(t, "7.5", recalculate("subtract", "10", "2,5", false))
	require.Equal(t, "25", recalculate("multiply", "10", "2.5", false))
	require.Equal(t, "4", recalculate("divide", "10", "2.5", false))
	require.Equal(t, "0", recalculate("divide", "10", "0", false))
	require.Equal(t, "12.10", recalculate("multiply", "11", "1.1", true))
	// non-numeric values pass through untouched
	require.Equal(t, "call us", recalculate("add", "call us", "5", false))
}

func TestApplyEditsArrayPerElement(t *testing.T) {
	edits := []EditRule{{Op: EditAddSuffix, Args: []string{"!"}}}
	out := ApplyEdits(edits, []string{"a", "b"}, Record{})
	require.Equal(t, []string{"a!", "b!"}, out)
}

func TestChildElementMarker(t *testing.T) {
	edits := []EditRule{{Op: EditChildElement, Args: []string{"unit_pricing_measure"}}}
	out := ApplyEdits(edits, "750ml", Record{})
	require.Equal(t, SubTagMarker+"unit_pricing_measure|750ml", out)
}

func TestStripTagsAndEntities(t *testing.T) {
	edits := []EditRule{{Op: EditStripTags}}
	require.Equal(t, "bold text", ApplyEdits(edits, "<b>bold</b> text", Record{}))

	edits = []EditRule{{Op: EditDecodeEntity}}
	require.Equal(t, "a & b", ApplyEdits(edits, "a &amp; b", Record{}))
}

func TestLimitCharacters(t *testing.T) {
	edits := []EditRule{{Op: EditLimitChars, Args: []string{"5"}}}
	require.Equal(t, "abcde", ApplyEdits(edits, "abcdefgh", Record{}))
	require.Equal(t, "abc", ApplyEdits(edits, "abc", Record{}))

	// bad limit arg leaves the value alone
	edits = []EditRule{{Op: EditLimitChars, Args: []string{"x"}}}
	require.Equal(t, "abcdefgh", ApplyEdits(edits, "abcdefgh", Record{}))
}
