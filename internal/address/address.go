// Package address canonicalizes email addresses and builds the set of
// addresses that belong to one account.
package address

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultCanonicalDomain = "mywed360.com"
	DefaultLegacyDomain    = "mywed360"
)

// Normalize trims, lowercases and NFC-composes an address. Empty input
// yields "". Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return norm.NFC.String(strings.ToLower(s))
}

// Profile holds the addresses known for an account.
type Profile struct {
	LoginEmail     string
	PlatformAlias  string
	SecondaryAlias string
}

// Rewriter derives the deprecated form of platform aliases.
type Rewriter struct {
	canonical string
	legacy    string
}

// NewRewriter creates a Rewriter. Empty domains fall back to the defaults.
func NewRewriter(canonicalDomain, legacyDomain string) Rewriter {
	r := Rewriter{
		canonical: strings.TrimPrefix(Normalize(canonicalDomain), "@"),
		legacy:    strings.TrimPrefix(Normalize(legacyDomain), "@"),
	}
	if r.canonical == "" {
		r.canonical = DefaultCanonicalDomain
	}
	if r.legacy == "" {
		r.legacy = DefaultLegacyDomain
	}
	return r
}

// DefaultRewriter rewrites @mywed360.com aliases to @mywed360.
func DefaultRewriter() Rewriter {
	return NewRewriter(DefaultCanonicalDomain, DefaultLegacyDomain)
}

// LegacyAlias returns the deprecated form of alias, or "" when alias is not
// on the canonical domain.
func (r Rewriter) LegacyAlias(alias string) string {
	a := Normalize(alias)
	suffix := "@" + r.canonical
	if a == "" || !strings.HasSuffix(a, suffix) {
		return ""
	}
	return strings.TrimSuffix(a, suffix) + "@" + r.legacy
}

// Collect returns every address owned by the profile: platform alias,
// secondary alias, login email and the legacy alias, in that order.
func (r Rewriter) Collect(p Profile) *Set {
	s := NewSet(p.PlatformAlias, p.SecondaryAlias, p.LoginEmail)
	s.Add(r.LegacyAlias(p.PlatformAlias))
	return s
}

// Effective returns target followed by every address of the profile.
func (r Rewriter) Effective(target string, p Profile) *Set {
	s := NewSet(target)
	for _, v := range r.Collect(p).Values() {
		s.Add(v)
	}
	return s
}
