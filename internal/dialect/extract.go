package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var defaultLeverage = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(\s*(\d+)\s*x\s*\)`),
	regexp.MustCompile(`(?i)leverage\s*:?\s*(\d+)\s*x`),
}

var ordinals = map[string]int{
	"first": 1, "1st": 1,
	"second": 2, "2nd": 2,
	"third": 3, "3rd": 3,
	"fourth": 4, "4th": 4,
	"fifth": 5, "5th": 5,
}

// namedMatch returns the named groups of the first match. Groups that did
// not participate map to "".
func namedMatch(re *regexp.Regexp, text string) (map[string]string, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	groups := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		groups[name] = m[i]
	}
	return groups, true
}

func firstGroup(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// parseNumber accepts thousands separators, a leading plus and a trailing dot.
func parseNumber(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.TrimPrefix(cleaned, "+")
	cleaned = strings.TrimSuffix(cleaned, ".")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty number %q", raw)
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse number %q: %w", raw, err)
	}
	return value, nil
}

func parseInt(raw string) (int, bool) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "+")
	v, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseLevel(raw string) (int, bool) {
	if v, ok := ordinals[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v, true
	}
	v, ok := parseInt(raw)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
