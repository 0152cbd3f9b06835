// Package normalize canonicalises chat text before pattern matching.
package normalize

import (
	"strings"
)

// Mode selects how whitespace is folded.
type Mode int

const (
	// Collapse folds every whitespace run, newlines included, into one space.
	Collapse Mode = iota
	// PreserveLines folds runs within a line but keeps line boundaries.
	PreserveLines
)

func (m Mode) String() string {
	switch m {
	case PreserveLines:
		return "preserve_lines"
	default:
		return "collapse"
	}
}

// spaceVariants render as blanks (or nothing) but are not matched by \s.
var spaceVariants = strings.NewReplacer(
	"\u00a0", " ",
	"\u2007", " ",
	"\u2009", " ",
	"\u200a", " ",
	"\u200b", " ",
	"\u202f", " ",
	"\u2060", " ",
	"\ufeff", " ",
	"\u3000", " ",
	"\ufe0e", "",
	"\ufe0f", "",
	"\r\n", "\n",
	"\r", "\n",
)

// Text applies the mode to s. Applying it twice yields the same result.
func Text(s string, mode Mode) string {
	s = spaceVariants.Replace(s)
	if mode == Collapse {
		return strings.Join(strings.Fields(s), " ")
	}

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.Join(strings.Fields(line), " "))
	}

	start, end := 0, len(out)
	for start < end && out[start] == "" {
		start++
	}
	for end > start && out[end-1] == "" {
		end--
	}
	return strings.Join(out[start:end], "\n")
}
