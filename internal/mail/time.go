package mail

import (
	"sort"
	"time"
)

// TimestampLayout is the millisecond ISO-8601 layout stored on documents.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts RFC 3339 (with or without fractional seconds).
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, TimestampLayout, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SortNewestFirst orders mails by timestamp, newest first. Mails without a
// parseable timestamp sort last; ties keep their relative order.
func SortNewestFirst(mails []RawMail) {
	sort.SliceStable(mails, func(i, j int) bool {
		ti, _ := ParseTimestamp(mails[i].Timestamp())
		tj, _ := ParseTimestamp(mails[j].Timestamp())
		return ti.After(tj)
	})
}

// OlderThan keeps the mails strictly older than cursor. A zero cursor
// keeps everything.
func OlderThan(mails []RawMail, cursor time.Time) []RawMail {
	if cursor.IsZero() {
		return mails
	}
	out := make([]RawMail, 0, len(mails))
	for _, m := range mails {
		t, ok := ParseTimestamp(m.Timestamp())
		if ok && t.Before(cursor) {
			out = append(out, m)
		}
	}
	return out
}
