package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAdvisedColumn(t *testing.T) {
	e := NewEngine()
	out := e.Resolve(ResolveRequest{
		Field:   "title",
		Advised: "post_title",
		Record:  Record{"post_title": "Blue Shirt"},
	})
	require.Equal(t, "Blue Shirt", out)
}

func TestResolveRelationFallback(t *testing.T) {
	e := NewEngine()
	out := e.Resolve(ResolveRequest{
		Field:    "description",
		Record:   Record{"post_content": "long text"},
		Relation: map[string]string{"description": "post_content"},
	})
	require.Equal(t, "long text", out)
}

func TestResolveCategoryShortCircuit(t *testing.T) {
	e := NewEngine()
	tree := &ValueTree{Sources: []Selector{{Kind: SourceStatic, Static: "ignored"}}}
	out := e.Resolve(ResolveRequest{
		Field:         "google_product_category",
		CategoryField: "google_product_category",
		Category:      "Apparel > Shirts",
		Tree:          tree,
	})
	require.Equal(t, "Apparel > Shirts", out)
}

func TestResolveFirstMatchingSelector(t *testing.T) {
	e := NewEngine()
	tree := &ValueTree{Sources: []Selector{
		{
			Kind:       SourceStatic,
			Static:     "in stock",
			Conditions: []Condition{{Column: "stock_status", Operator: OpEqual, Operand: "instock"}},
		},
		{Kind: SourceStatic, Static: "out of stock"},
	}}

	out := e.Resolve(ResolveRequest{
		Field:  "availability",
		Tree:   tree,
		Record: Record{"stock_status": "instock"},
	})
	require.Equal(t, "in stock", out)

	out = e.Resolve(ResolveRequest{
		Field:  "availability",
		Tree:   tree,
		Record: Record{"stock_status": "onbackorder"},
	})
	require.Equal(t, "out of stock", out)
}

func TestResolveLastSelectorIsFallback(t *testing.T) {
	e := NewEngine()
	// both selectors conditional, neither matches: the last one still applies
	tree := &ValueTree{Sources: []Selector{
		{
			Kind:       SourceStatic,
			Static:     "a",
			Conditions: []Condition{{Column: "x", Operator: OpEqual, Operand: "1"}},
		},
		{
			Kind:       SourceColumn,
			Column:     "sku",
			Conditions: []Condition{{Column: "x", Operator: OpEqual, Operand: "2"}},
		},
	}}
	out := e.Resolve(ResolveRequest{
		Field:  "id",
		Tree:   tree,
		Record: Record{"x": "9", "sku": "SKU-7"},
	})
	require.Equal(t, "SKU-7", out)
}

func TestResolveEditsAfterSource(t *testing.T) {
	e := NewEngine()
	tree := &ValueTree{
		Sources: []Selector{{Kind: SourceColumn, Column: "price"}},
		Edits:   []EditRule{{Op: EditAddSuffix, Args: []string{" EUR"}}},
	}
	out := e.Resolve(ResolveRequest{
		Field:  "price",
		Tree:   tree,
		Record: Record{"price": "9.99"},
	})
	require.Equal(t, "9.99 EUR", out)
}

func TestResolveCombinedScalar(t *testing.T) {
	e := NewEngine()
	tree := &ValueTree{Sources: []Selector{{
		Kind:     SourceCombined,
		Combined: "brand|6#post_title|static#(new)",
	}}}
	out := e.Resolve(ResolveRequest{
		Field:  "title",
		Tree:   tree,
		Record: Record{"brand": "Acme", "post_title": "Widget"},
	})
	require.Equal(t, "Acme-Widget(new)", out)
}

func TestResolveCombinedSkipsEmptyParts(t *testing.T) {
	e := NewEngine()
	tree := &ValueTree{Sources: []Selector{{
		Kind:     SourceCombined,
		Combined: "brand|1#post_title",
	}}}
	out := e.Resolve(ResolveRequest{
		Field:  "title",
		Tree:   tree,
		Record: Record{"post_title": "Widget"},
	})
	require.Equal(t, "Widget", out)
}

func TestResolveCombinedArrayColumn(t *testing.T) {
	e := NewEngine()
	tree := &ValueTree{Sources: []Selector{{
		Kind:     SourceCombined,
		Combined: "static#img:|0#gallery",
	}}}
	out := e.Resolve(ResolveRequest{
		Field:  "additional_image_link",
		Tree:   tree,
		Record: Record{"gallery": []string{"a.jpg", "b.jpg"}},
	})
	require.Equal(t, []string{"img:a.jpg", "img:b.jpg"}, out)
}

func TestDecodeValueTree(t *testing.T) {
	tree, err := DecodeValueTree(`{"m":[{"type":"static","static":"new"}],"v":[{"o":"add prefix","args":["x"]}]}`)
	require.NoError(t, err)
	require.Len(t, tree.Sources, 1)
	require.Len(t, tree.Edits, 1)

	tree, err = DecodeValueTree("  ")
	require.NoError(t, err)
	require.Nil(t, tree)

	_, err = DecodeValueTree("{broken")
	require.Error(t, err)
}

func TestSeparatorTable(t *testing.T) {
	require.Equal(t, "", Separator(0))
	require.Equal(t, "||", Separator(9))
	require.Equal(t, ">", Separator(11))
	require.Equal(t, " ", Separator(99))
}
