package mail

import (
	"strings"

	"github.com/mywed360/mail-service/internal/address"
)

// MatchesAddresses applies the folder's ownership rule: sent matches on the
// sender, inbox on any recipient, trash and custom folders on either.
// An empty set matches everything.
func MatchesAddresses(m RawMail, folder string, addrs *address.Set) bool {
	if addrs.Len() == 0 {
		return true
	}
	fromMatch := addrs.Has(m.From)
	recipientMatch := false
	for _, r := range m.RecipientAddresses() {
		if addrs.Has(r) {
			recipientMatch = true
			break
		}
	}

	switch strings.ToLower(folder) {
	case FolderSent:
		return fromMatch
	case FolderInbox:
		return recipientMatch
	default:
		return fromMatch || recipientMatch
	}
}

// FilterByAddresses keeps the mails matching addrs for folder.
func FilterByAddresses(mails []RawMail, folder string, addrs *address.Set) []RawMail {
	if addrs.Len() == 0 {
		return mails
	}
	out := make([]RawMail, 0, len(mails))
	for _, m := range mails {
		if MatchesAddresses(m, folder, addrs) {
			out = append(out, m)
		}
	}
	return out
}

// FilterByFolder keeps the mails stored in folder. Mails without a folder
// count as inbox.
func FilterByFolder(mails []RawMail, folder string) []RawMail {
	out := make([]RawMail, 0, len(mails))
	for _, m := range mails {
		f := m.Folder
		if f == "" {
			f = FolderInbox
		}
		if f == folder {
			out = append(out, m)
		}
	}
	return out
}
