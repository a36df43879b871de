package render

import (
	"strings"

	"feedforge/pkg/feed"
	"feedforge/pkg/feed/rules"
)

// XML renders one product as a channel item element. Field order follows
// the resolved field list.
type XML struct {
	Channel feed.ChannelDetails
}

func (x *XML) Item(fields []Field) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(x.Channel.ItemTag)
	b.WriteString(">\n")
	for _, f := range fields {
		x.field(&b, f)
	}
	b.WriteString("</")
	b.WriteString(x.Channel.ItemTag)
	b.WriteString(">\n")
	return b.String()
}

func (x *XML) field(b *strings.Builder, f Field) {
	vals := values(f.Value)
	if x.Channel.IsRepeated(f.Key) {
		// repeated keys also explode scalar values on the sub separator
		var exploded []string
		for _, v := range vals {
			if x.Channel.SubSeparator != "" && strings.Contains(v, x.Channel.SubSeparator) {
				exploded = append(exploded, strings.Split(v, x.Channel.SubSeparator)...)
			} else {
				exploded = append(exploded, v)
			}
		}
		vals = exploded
	}

	var subs []string
	var plain []string
	for _, v := range vals {
		if strings.HasPrefix(v, rules.SubTagMarker) {
			subs = append(subs, v)
		} else if v != "" {
			plain = append(plain, v)
		}
	}

	if !x.Channel.IsRepeated(f.Key) && len(plain) > 1 {
		plain = []string{strings.Join(plain, " ")}
	}
	for _, v := range plain {
		x.element(b, f.Key, v)
	}

	if len(subs) == 0 {
		return
	}
	if x.Channel.IsRepeated(f.Key) {
		// one parent instance per tagged value
		for _, s := range subs {
			x.openTag(b, f.Key)
			b.WriteString("\n")
			x.subElement(b, s)
			x.closeTag(b, f.Key)
		}
		return
	}
	// all tagged values nested under a single parent
	x.openTag(b, f.Key)
	b.WriteString("\n")
	for _, s := range subs {
		x.subElement(b, s)
	}
	x.closeTag(b, f.Key)
}

// subElement renders one "!sub:name|value" marker as a child element.
func (x *XML) subElement(b *strings.Builder, marked string) {
	rest := strings.TrimPrefix(marked, rules.SubTagMarker)
	name, value, ok := strings.Cut(rest, "|")
	if !ok || name == "" {
		return
	}
	b.WriteString("  ")
	x.element(b, name, value)
}

func (x *XML) element(b *strings.Builder, key, value string) {
	x.openTag(b, key)
	if x.Channel.HasCDATA(key) && !isNumeric(value) {
		b.WriteString("<![CDATA[")
		b.WriteString(cdataSafe(clean(value)))
		b.WriteString("]]>")
	} else {
		b.WriteString(escape(clean(value)))
	}
	x.closeTag(b, key)
}

func (x *XML) openTag(b *strings.Builder, key string) {
	b.WriteString("  <")
	b.WriteString(x.qualified(key))
	b.WriteString(">")
}

func (x *XML) closeTag(b *strings.Builder, key string) {
	b.WriteString("</")
	b.WriteString(x.qualified(key))
	b.WriteString(">\n")
}

func (x *XML) qualified(key string) string {
	if x.Channel.Prefix == "" {
		return key
	}
	return x.Channel.Prefix + ":" + key
}

// clean applies the channel-neutral character fixes that run before any
// escaping: non-breaking space entities become plain spaces and
// backticks are dropped.
func clean(s string) string {
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "nbsp;", " ")
	return strings.ReplaceAll(s, "`", "")
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func escape(s string) string {
	return xmlEscaper.Replace(s)
}

// cdataSafe splits a literal "]]>" so it cannot terminate the section.
func cdataSafe(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

// isNumeric exempts purely numeric values from CDATA wrapping.
func isNumeric(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	_, ok := rules.ParseLocaleNumber(t)
	return ok
}
