package rules

import (
	"strconv"
	"strings"
	"unicode"
)

// Locale-aware decimal handling. Stores localize prices ("1.299,95") but
// all arithmetic and comparisons run on US notation ("1299.95"). The
// normalizer is deliberately conservative: values that already look like
// US notation, or that contain letters, pass through untouched.

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// looksUS reports whether a value already reads as US notation: no
// comma anywhere and at most one dot.
func looksUS(s string) bool {
	return !strings.Contains(s, ",") && strings.Count(s, ".") <= 1
}

// NormalizeDecimal rewrites a localized decimal string to US notation:
// thousands separators stripped, a decimal comma swapped for a dot.
// Non-numeric-looking input is returned unchanged.
func NormalizeDecimal(s string) string {
	t := strings.TrimSpace(s)
	if t == "" || hasLetter(t) {
		return t
	}
	if looksUS(t) {
		return t
	}
	if strings.Contains(t, ",") {
		// dots are thousands groups, the comma is the decimal mark
		t = strings.ReplaceAll(t, ".", "")
		t = strings.Replace(t, ",", ".", 1)
		t = strings.ReplaceAll(t, ",", "")
		return t
	}
	// no comma: dots were thousands separators
	return strings.ReplaceAll(t, ".", "")
}

// ParseLocaleNumber parses a possibly localized decimal. The second
// return is false when the value is not a number at all.
func ParseLocaleNumber(s string) (float64, bool) {
	t := strings.ReplaceAll(NormalizeDecimal(s), " ", "")
	if t == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FormatMoney renders a float the way money columns are stored: dot
// decimal, two digits.
func FormatMoney(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
