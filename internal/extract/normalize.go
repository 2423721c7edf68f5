package extract

import (
	"strings"
	"time"
)

const (
	canonicalDate     = "2006-01-02"
	canonicalDateTime = "2006-01-02 15:04:05"
)

type dateLayout struct {
	layout   string
	withTime bool
}

// dateLayouts are tried in order; the first that parses the whole value wins.
// Single-digit month, day, hour, minute and second are all accepted.
var dateLayouts = []dateLayout{
	{"2006-1-2", false},
	{"2006/1/2", false},
	{"20060102", false},
	{"2006-1-2 15:4:5", true},
	{"2006/1/2 15:4:5", true},
	{"20060102 15:4:5", true},
	{"2006-1-2 15:4", true},
	{"2006/1/2 15:4", true},
	{"20060102 15:4", true},
}

// collapseSpace replaces every whitespace run with one space and trims the ends.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeString collapses whitespace and re-emits recognized dates in
// canonical form. Anything else comes back verbatim after the collapse.
func NormalizeString(raw string) string {
	s := collapseSpace(raw)
	if s == "" {
		return s
	}
	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			continue
		}
		if dl.withTime {
			return t.Format(canonicalDateTime)
		}
		return t.Format(canonicalDate)
	}
	return s
}

// FormatDateTime renders a native spreadsheet date in the canonical
// date-time form.
func FormatDateTime(t time.Time) string {
	return t.Format(canonicalDateTime)
}

// normalizeCell maps a raw cell string to a record value. Empty cells and
// cells that are only whitespace become nil.
func normalizeCell(raw string) *string {
	s := NormalizeString(raw)
	if s == "" {
		return nil
	}
	return &s
}
