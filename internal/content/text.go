// Package content turns raw feed fields into display-ready text, dates and image references.
package content

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxTitleLength   = 80
	MaxContentLength = 1000
	MaxParagraphs    = 5
	Ellipsis         = "..."
)

// Truncate cuts s to at most limit characters and appends Ellipsis when it had to cut.
// Characters are counted as runes of the NFC form so composed and decomposed accents count once.
func Truncate(s string, limit int) string {
	s = norm.NFC.String(s)
	if limit < 0 {
		limit = 0
	}

	count := 0
	for i := range s {
		if count == limit {
			return s[:i] + Ellipsis
		}
		count++
	}
	return s
}

// TruncateTitle applies the title length limit.
func TruncateTitle(title string) string {
	return Truncate(strings.TrimSpace(title), MaxTitleLength)
}
