// Package access decides whether a caller may act on a mail record.
package access

import (
	"strings"

	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/mailerr"
)

// ErrForbidden is returned for records owned by someone else.
var ErrForbidden = mailerr.Forbidden("forbidden", "mail belongs to another account")

// Role is the caller's role as asserted by the authenticator.
type Role string

const (
	RoleStandard Role = "standard"
	RolePlanner  Role = "planner"
	RoleAdmin    Role = "admin"
)

// ParseRole normalizes a role claim. Unknown roles are standard.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RolePlanner:
		return RolePlanner
	default:
		return RoleStandard
	}
}

// Elevated reports whether the role sees every account's mail.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RolePlanner
}

// Caller is an authenticated principal.
type Caller struct {
	AccountID string
	Role      Role
	Profile   address.Profile
	Addresses *address.Set
}

// Elevated reports whether the caller holds an elevated role.
func (c Caller) Elevated() bool {
	return c.Role.Elevated()
}

// OwnerAddress returns the address owning rec while it sits in folder:
// the sender for sent mail, the trashing owner for trash, the primary
// recipient otherwise.
func OwnerAddress(folder string, rec mail.Record) string {
	f := strings.ToLower(strings.TrimSpace(folder))
	switch {
	case strings.HasPrefix(f, mail.FolderSent):
		return address.Normalize(rec.From)
	case strings.HasPrefix(f, mail.FolderTrash):
		if rec.TrashMeta != nil {
			if rec.TrashMeta.OwnerEmail != "" {
				return address.Normalize(rec.TrashMeta.OwnerEmail)
			}
			prev := strings.ToLower(rec.TrashMeta.PreviousFolder)
			if prev != "" && prev != mail.FolderTrash {
				return OwnerAddress(prev, rec)
			}
		}
	}
	if rec.ToPrimary != nil {
		return address.Normalize(*rec.ToPrimary)
	}
	if len(rec.To) > 0 {
		return address.Normalize(rec.To[0])
	}
	return ""
}

// Check returns nil when caller may act on rec, ErrForbidden otherwise.
// A record whose owner cannot be determined is not restricted.
func Check(caller Caller, rec mail.Record) error {
	if caller.Elevated() {
		return nil
	}
	if caller.AccountID != "" && strings.TrimSpace(rec.OwnerUID) == caller.AccountID {
		return nil
	}
	folder := rec.Folder
	if folder == "" {
		folder = mail.FolderInbox
	}
	owner := OwnerAddress(folder, rec)
	if owner == "" || caller.Addresses.Has(owner) {
		return nil
	}
	return ErrForbidden
}
