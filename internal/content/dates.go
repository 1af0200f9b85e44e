package content

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// DisplayDateLayout is the DD/MM/YYYY format shown on the panel.
const DisplayDateLayout = "02/01/2006"

var ErrUnparseableDate = errors.New("unparseable publication date")

// fallbackLayouts covers feeds that publish ISO timestamps or drift from RFC 822.
var fallbackLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a feed publication date, keeping the zone the feed declared.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrUnparseableDate
	}

	if t, err := mail.ParseDate(s); err == nil {
		return t, nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrUnparseableDate
}

// FormatDate renders t in DisplayDateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DisplayDateLayout)
}

// NormalizeDate returns raw as DD/MM/YYYY, or raw unchanged when it cannot be parsed.
func NormalizeDate(raw string) string {
	t, err := ParseDate(raw)
	if err != nil {
		return raw
	}
	return FormatDate(t)
}
