package mapping

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mywed360/mail-service/internal/mail"
)

const (
	MaxFolderNameLength = 100
	MaxTagNameLength    = 60
	DefaultTagColor     = "#64748b"
)

var tagColorPattern = regexp.MustCompile(`^#[0-9a-f]{3,8}$`)

// RawEntry is a folder or tag as submitted by a client or found in a stored
// payload, before validation.
type RawEntry = map[string]any

// Folder is a user-defined folder.
type Folder struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Unread    int    `json:"unread"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Tag is a user-defined label.
type Tag struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// SanitizeFolder validates a raw folder. Entries without a usable name are
// rejected.
func SanitizeFolder(raw RawEntry, now time.Time) (Folder, bool) {
	name := sanitizeName(raw["name"], MaxFolderNameLength)
	if name == "" {
		return Folder{}, false
	}
	created := sanitizeTimestamp(raw["createdAt"], now)
	return Folder{
		ID:        sanitizeID(raw["id"]),
		Name:      name,
		Unread:    sanitizeCounter(raw["unread"]),
		CreatedAt: created,
		UpdatedAt: sanitizeTimestamp(raw["updatedAt"], now),
	}, true
}

// SanitizeTag validates a raw tag. Entries without a usable name are
// rejected; an invalid color falls back to DefaultTagColor.
func SanitizeTag(raw RawEntry, now time.Time) (Tag, bool) {
	name := sanitizeName(raw["name"], MaxTagNameLength)
	if name == "" {
		return Tag{}, false
	}
	return Tag{
		ID:        sanitizeID(raw["id"]),
		Name:      name,
		Color:     SanitizeColor(raw["color"]),
		CreatedAt: sanitizeTimestamp(raw["createdAt"], now),
		UpdatedAt: sanitizeTimestamp(raw["updatedAt"], now),
	}, true
}

// SanitizeColor lower-cases a #hex color, or returns DefaultTagColor.
func SanitizeColor(v any) string {
	s, ok := v.(string)
	if !ok {
		return DefaultTagColor
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !tagColorPattern.MatchString(s) {
		return DefaultTagColor
	}
	return s
}

// SanitizeName trims s and caps it at max runes.
func SanitizeName(s string, max int) string {
	return sanitizeName(s, max)
}

func sanitizeName(v any, max int) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

func sanitizeID(v any) string {
	id := strings.TrimSpace(coerceString(v))
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// coerceString renders JSON scalars the way a client would write them; JSON
// numbers decode as float64, so integral values drop the fraction.
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func sanitizeTimestamp(v any, now time.Time) string {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if _, ok := mail.ParseTimestamp(s); ok {
			return s
		}
	}
	return mail.FormatTimestamp(now)
}

func sanitizeCounter(v any) int {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == math.Trunc(t) && t < math.MaxInt32 {
			return int(t)
		}
	case int:
		if t > 0 {
			return t
		}
	case int64:
		if t > 0 && t < math.MaxInt32 {
			return int(t)
		}
	}
	return 0
}

// cleanIDs trims ids, drops empties and keeps the first of duplicates.
func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
