package feed

import "strings"

// ChannelDetails carries the rendering rules of one shopping channel:
// element naming, CDATA policy, repeated-field handling and the few
// channel-specific quirks the serializers and the task executor need.
type ChannelDetails struct {
	ID               string
	ItemTag          string
	Prefix           string
	CategoryField    string
	DescriptionField string
	ImageField       string
	// CDATAFields are wrapped in CDATA sections unless purely numeric.
	CDATAFields []string
	// RepeatedFields explode on SubSeparator into sibling elements.
	RepeatedFields []string
	SubSeparator   string
	// QuoteEmptyCSV controls whether empty CSV fields still get quotes.
	QuoteEmptyCSV bool
	// MaxImages bounds the multi-image expansion slots.
	MaxImages int
	// CappedFields are trimmed to at most three tokens joined with "/".
	CappedFields []string
}

// HasCDATA reports whether a field is CDATA-wrapped on this channel.
func (c ChannelDetails) HasCDATA(field string) bool {
	return contains(c.CDATAFields, field)
}

// IsRepeated reports whether a field explodes into sibling elements.
func (c ChannelDetails) IsRepeated(field string) bool {
	return contains(c.RepeatedFields, field)
}

// IsCapped reports whether a field is token-capped on this channel.
func (c ChannelDetails) IsCapped(field string) bool {
	return contains(c.CappedFields, field)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

var channels = map[string]ChannelDetails{
	"google": {
		ID:               "google",
		ItemTag:          "item",
		Prefix:           "g",
		CategoryField:    "google_product_category",
		DescriptionField: "description",
		ImageField:       "image_link",
		CDATAFields:      []string{"title", "description", "google_product_category", "product_type"},
		RepeatedFields:   []string{"additional_image_link", "shipping", "product_highlight"},
		SubSeparator:     ";;",
		QuoteEmptyCSV:    true,
		MaxImages:        10,
		CappedFields:     []string{"material", "color"},
	},
	"facebook": {
		ID:               "facebook",
		ItemTag:          "item",
		Prefix:           "g",
		CategoryField:    "fb_product_category",
		DescriptionField: "description",
		ImageField:       "image_link",
		CDATAFields:      []string{"title", "description", "fb_product_category"},
		RepeatedFields:   []string{"additional_image_link"},
		SubSeparator:     ";;",
		QuoteEmptyCSV:    false,
		MaxImages:        10,
		CappedFields:     []string{"material", "color"},
	},
	"custom": {
		ID:               "custom",
		ItemTag:          "product",
		CategoryField:    "category",
		DescriptionField: "description",
		ImageField:       "image",
		CDATAFields:      []string{"title", "description", "category"},
		SubSeparator:     ";;",
		QuoteEmptyCSV:    true,
		MaxImages:        10,
	},
}

// Channel returns the rendering details for a channel id. Unknown ids
// fall back to the custom channel.
func Channel(id string) ChannelDetails {
	if c, ok := channels[strings.ToLower(id)]; ok {
		return c
	}
	return channels["custom"]
}

// KnownChannel reports whether a channel id is registered.
func KnownChannel(id string) bool {
	_, ok := channels[strings.ToLower(id)]
	return ok
}

// DefaultRelation maps feed attribute names to catalog record columns
// used when a rule names neither sources nor an advised column.
func DefaultRelation() map[string]string {
	return map[string]string{
		"id":                    "sku",
		"title":                 "post_title",
		"description":           "post_content",
		"link":                  "permalink",
		"image_link":            "image",
		"additional_image_link": "gallery",
		"price":                 "regular_price",
		"sale_price":            "sale_price",
		"availability":          "stock_status",
		"condition":             "condition",
		"brand":                 "brand",
		"gtin":                  "gtin",
		"mpn":                   "sku",
		"item_group_id":         "parent_sku",
		"shipping_weight":       "_weight",
		"product_type":          "category_path",
	}
}
