package mail

import (
	"strings"

	"github.com/mywed360/mail-service/internal/address"
)

type fieldKind int

const (
	fieldAbsent fieldKind = iota
	fieldSingle
	fieldList
)

// AddressEntry is one element of a stored recipient list: either a plain
// string or an object carrying the address under email, address or value.
type AddressEntry struct {
	Text     string
	IsObject bool
	Email    string
	Address  string
	Value    string
}

// TextEntry returns a plain string entry.
func TextEntry(s string) AddressEntry {
	return AddressEntry{Text: s}
}

// ObjectEntry returns an object entry.
func ObjectEntry(email, addr, value string) AddressEntry {
	return AddressEntry{IsObject: true, Email: email, Address: addr, Value: value}
}

func (e AddressEntry) raw() string {
	if !e.IsObject {
		return e.Text
	}
	for _, v := range []string{e.Email, e.Address, e.Value} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// AddressField holds a recipient field in any of its historical shapes.
type AddressField struct {
	kind   fieldKind
	single string
	list   []AddressEntry
}

// Absent returns a missing field.
func Absent() AddressField {
	return AddressField{}
}

// Single returns a field stored as one, possibly delimited, string.
func Single(s string) AddressField {
	return AddressField{kind: fieldSingle, single: s}
}

// List returns a field stored as a list of entries.
func List(entries ...AddressEntry) AddressField {
	return AddressField{kind: fieldList, list: entries}
}

// StringList returns a list field of plain strings.
func StringList(values []string) AddressField {
	entries := make([]AddressEntry, len(values))
	for i, v := range values {
		entries[i] = TextEntry(v)
	}
	return List(entries...)
}

func (f AddressField) IsAbsent() bool { return f.kind == fieldAbsent }
func (f AddressField) IsList() bool   { return f.kind == fieldList }

// Text returns the single-string form, if the field has one.
func (f AddressField) Text() (string, bool) {
	if f.kind != fieldSingle {
		return "", false
	}
	return f.single, true
}

// Addresses parses the field into normalized, non-empty addresses.
// Strings are split on "," and ";". The result is never nil.
func (f AddressField) Addresses() []string {
	out := []string{}
	switch f.kind {
	case fieldSingle:
		out = appendSplit(out, f.single)
	case fieldList:
		for _, e := range f.list {
			if e.IsObject {
				if v := address.Normalize(e.raw()); v != "" {
					out = append(out, v)
				}
				continue
			}
			out = appendSplit(out, e.Text)
		}
	}
	return out
}

func appendSplit(out []string, s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	for _, p := range parts {
		if v := address.Normalize(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
