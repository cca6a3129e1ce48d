package domain

import (
	"strconv"
	"strings"
)

// placeholders are upstream spellings of "no value". Comparison happens on
// the trimmed, lowercased field.
var placeholders = map[string]struct{}{
	"none": {}, "nan": {}, "inf": {}, "-inf": {}, "": {},
	"na": {}, "n/a": {}, "null": {}, "-": {}, "#n/a": {}, "undefined": {},
}

// IsPlaceholder reports whether the raw field is an upstream null spelling.
func IsPlaceholder(raw string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// CleanString trims the raw field and maps placeholder spellings to "".
func CleanString(raw string) string {
	s := strings.TrimSpace(raw)
	if IsPlaceholder(s) {
		return ""
	}
	return s
}

var magnitudeSuffixes = map[byte]float64{
	'K': 1e3, 'M': 1e6, 'B': 1e9, 'T': 1e12,
}

// ParseNumber parses a human-formatted numeric field. It tolerates currency
// symbols, thousands separators, percent signs, parenthesized negatives and
// K/M/B/T magnitude suffixes. Placeholder spellings and anything else
// unparseable yield (0, false); mappers treat that as an absent field, never
// an error.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if IsPlaceholder(s) {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimPrefix(s, "£")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	scale := 1.0
	if last := s[len(s)-1]; last >= 'A' && last <= 'Z' || last >= 'a' && last <= 'z' {
		upper := last
		if upper >= 'a' {
			upper -= 'a' - 'A'
		}
		mult, ok := magnitudeSuffixes[upper]
		if !ok {
			return 0, false
		}
		scale = mult
		s = strings.TrimSpace(s[:len(s)-1])
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v * scale, true
}

// ParseNumberPtr is ParseNumber returning nil for absent fields, for
// optional struct members.
func ParseNumberPtr(raw string) *float64 {
	v, ok := ParseNumber(raw)
	if !ok {
		return nil
	}
	return &v
}

// NormalizeURL repairs the URL spellings providers emit: protocol-relative
// and bare-host links get https, placeholder spellings become "".
func NormalizeURL(raw string) string {
	s := CleanString(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return "https://" + s
}

// toSnake lowercases and folds separators to underscores.
func toSnake(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// spaced is the inverse fold used for alias lookups.
func spaced(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
