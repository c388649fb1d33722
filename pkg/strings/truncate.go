package strings

import (
	"strings"
)

// DefaultCellMaxLen is the width table cells are cut to in console output.
const DefaultCellMaxLen = 80

// MinTruncateLen leaves room for one character plus "...".
const MinTruncateLen = 4

// Truncate collapses s to one line and cuts it to maxLen runes, marking a
// cut with "...". maxLen below MinTruncateLen is raised to it.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// FirstLine returns s up to its first newline, truncated to maxLen. Error
// messages carry their summary on the first line.
func FirstLine(s string, maxLen int) string {
	line, _, _ := strings.Cut(s, "\n")
	return Truncate(line, maxLen)
}
