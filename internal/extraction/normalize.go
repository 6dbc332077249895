package extraction

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberToken = regexp.MustCompile(`(?:\d[\d,]*)?\.?\d+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// ParsePrice turns a display price into whole dollars. Currency symbols,
// thousands separators and any fractional part are dropped. Returns nil
// when the text holds no number.
func ParsePrice(raw string) *int64 {
	token := numberToken.FindString(raw)
	if token == "" {
		return nil
	}
	token = strings.ReplaceAll(token, ",", "")
	if i := strings.IndexByte(token, '.'); i >= 0 {
		token = token[:i]
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseNumber returns the first decimal or integer token of raw, e.g.
// 3.5 for "3.5 baths". Returns nil when there is none.
func ParseNumber(raw string) *float64 {
	token := numberToken.FindString(raw)
	if token == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

// CleanAddress collapses whitespace runs and strips a trailing comma
func CleanAddress(raw string) string {
	s := strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))
	s = strings.TrimSuffix(s, ",")
	return strings.TrimSpace(s)
}

// LocationFromAddress returns the second-to-last comma separated segment,
// which is the city in "street, city, state zip" addresses
func LocationFromAddress(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-2])
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
