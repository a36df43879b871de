package feed

import (
	"errors"
	"fmt"

	"feedforge/pkg/feed/rules"
)

var supportedFormats = map[string]bool{
	"xml": true,
	"csv": true,
	"tsv": true,
	"txt": true,
}

// Validate checks a feed configuration before it is registered or a run
// is started. Rule trees are decoded here so malformed rule JSON is
// rejected at the boundary instead of mid-run.
func Validate(f Feed) error {
	if f.ID == "" {
		return errors.New("feed id is required")
	}
	if f.FileName == "" {
		return errors.New("feed file name is required")
	}
	if !supportedFormats[f.Format()] {
		return fmt.Errorf("unsupported feed format %q", f.Format())
	}
	if !KnownChannel(f.Channel) {
		return fmt.Errorf("unknown channel %q", f.Channel)
	}
	if len(f.Attributes) == 0 {
		return errors.New("feed has no attributes")
	}
	for _, a := range f.Attributes {
		if a.FieldName == "" {
			return errors.New("attribute with empty field name")
		}
		if _, err := rules.DecodeValueTree(a.Value); err != nil {
			return fmt.Errorf("attribute %q: %w", a.FieldName, err)
		}
	}
	return nil
}
