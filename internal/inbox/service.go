// Package inbox implements the mail operations exposed to the HTTP routes.
package inbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/attachment"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/mailerr"
	"github.com/mywed360/mail-service/internal/mapping"
	"github.com/mywed360/mail-service/internal/retrieval"
)

var (
	ErrPaginationAll   = mailerr.BadRequest("pagination_not_supported_for_all", "the all-folders view cannot be paged")
	ErrIDRequired      = mailerr.BadRequest("id-required", "mail id is required")
	ErrAccountRequired = mailerr.Unauthenticated("unauthenticated", "caller has no account")
)

// MailStore reads and patches mail documents.
type MailStore interface {
	GetMail(ctx context.Context, mailID string) (mail.RawMail, error)
	PatchMail(ctx context.Context, current mail.RawMail, patch mail.Patch) error
	PatchAccountMail(ctx context.Context, accountID string, current mail.RawMail, patch mail.Patch) error
}

// Lister answers folder listings.
type Lister interface {
	FetchFolder(ctx context.Context, q retrieval.Query) retrieval.Page
	FetchAll(ctx context.Context, addrs *address.Set, limit int) []mail.Record
}

// OwnerResolver maps an address to an account id, "" when unknown.
type OwnerResolver interface {
	ResolveUID(ctx context.Context, addr string) string
}

// FolderAssignments is the mail to custom folder mapping.
type FolderAssignments interface {
	SetMappingForOne(ctx context.Context, accountID, mailID, folderID string) (mapping.FolderMapping, error)
	FolderFor(ctx context.Context, accountID, mailID string) (string, error)
	AdjustUnread(ctx context.Context, accountID, folderID string, delta int) error
}

// TagAssignments is the mail to tags mapping.
type TagAssignments interface {
	PatchMappingForOne(ctx context.Context, accountID, mailID string, add, remove []string) (mapping.TagMapping, error)
	TagsFor(ctx context.Context, accountID, mailID string) ([]string, error)
}

// AttachmentStore opens attachments and signs download URLs.
type AttachmentStore interface {
	Open(ctx context.Context, att mail.StoredAttachment) (attachment.Content, error)
	SignedURL(ctx context.Context, att mail.StoredAttachment) (string, time.Time, error)
}

// Deps wires a Service. Logger and Rewriter have defaults.
type Deps struct {
	Mails       MailStore
	Lister      Lister
	Owners      OwnerResolver
	Folders     FolderAssignments
	Tags        TagAssignments
	Attachments AttachmentStore
	Rewriter    address.Rewriter
	Logger      *slog.Logger
}

// Service implements the mail operations.
type Service struct {
	mails       MailStore
	lister      Lister
	owners      OwnerResolver
	folders     FolderAssignments
	tags        TagAssignments
	attachments AttachmentStore
	rewriter    address.Rewriter
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new Service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Rewriter == (address.Rewriter{}) {
		d.Rewriter = address.DefaultRewriter()
	}
	return &Service{
		mails:       d.Mails,
		lister:      d.Lister,
		owners:      d.Owners,
		folders:     d.Folders,
		tags:        d.Tags,
		attachments: d.Attachments,
		rewriter:    d.Rewriter,
		logger:      d.Logger,
		now:         time.Now,
	}
}

// ResolveTarget returns the address set a listing runs for. Elevated
// callers may name any user; standard callers naming someone else are
// scoped back to their own alias or login.
func (s *Service) ResolveTarget(caller access.Caller, requested string) *address.Set {
	target := address.Normalize(requested)
	if !caller.Elevated() {
		alias := address.Normalize(caller.Profile.PlatformAlias)
		login := address.Normalize(caller.Profile.LoginEmail)
		own := target != "" && (target == alias || target == login || target == s.rewriter.LegacyAlias(alias))
		if !own {
			target = alias
			if target == "" {
				target = login
			}
		}
	}
	return s.rewriter.Effective(target, caller.Profile)
}

// IsAllFolders reports whether folder names the merged view.
func IsAllFolders(folder string) bool {
	return strings.EqualFold(strings.TrimSpace(folder), mail.FolderAll)
}

// ListFolder returns one page of a folder.
func (s *Service) ListFolder(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int, cursor string) (retrieval.Page, error) {
	if IsAllFolders(folder) {
		return retrieval.Page{}, ErrPaginationAll
	}
	return s.lister.FetchFolder(ctx, retrieval.Query{
		Folder:    folder,
		Addresses: s.ResolveTarget(caller, requestedUser),
		Limit:     limit,
		Cursor:    cursor,
	}), nil
}

// ListAll returns inbox, sent and trash merged, newest first.
func (s *Service) ListAll(ctx context.Context, caller access.Caller, requestedUser string, limit int) []mail.Record {
	return s.lister.FetchAll(ctx, s.ResolveTarget(caller, requestedUser), limit)
}

// List is the unpaged listing: a single folder, or all of them.
func (s *Service) List(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int) []mail.Record {
	if IsAllFolders(folder) {
		return s.ListAll(ctx, caller, requestedUser, limit)
	}
	page, _ := s.ListFolder(ctx, caller, folder, requestedUser, limit, "")
	return page.Items
}

// load reads a mail and checks the caller may act on it.
func (s *Service) load(ctx context.Context, caller access.Caller, mailID string) (mail.RawMail, mail.Record, error) {
	mailID = strings.TrimSpace(mailID)
	if mailID == "" {
		return mail.RawMail{}, mail.Record{}, ErrIDRequired
	}
	raw, err := s.mails.GetMail(ctx, mailID)
	if err != nil {
		return mail.RawMail{}, mail.Record{}, err
	}
	rec := mail.Format(raw)
	if err := access.Check(caller, rec); err != nil {
		return mail.RawMail{}, mail.Record{}, err
	}
	return raw, rec, nil
}

// GetOne returns a single mail with its tags from both the record and the
// caller's tag mapping.
func (s *Service) GetOne(ctx context.Context, caller access.Caller, mailID string) (mail.Record, error) {
	_, rec, err := s.load(ctx, caller, mailID)
	if err != nil {
		return mail.Record{}, err
	}
	rec.Tags = mergeTags(rec.Tags, s.mappedTags(ctx, caller.AccountID, rec.ID))
	return rec, nil
}

func (s *Service) mappedTags(ctx context.Context, accountID, mailID string) []string {
	if accountID == "" || s.tags == nil {
		return nil
	}
	ids, err := s.tags.TagsFor(ctx, accountID, mailID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to read tag mapping",
			slog.String("account_id", accountID),
			slog.String("mail_id", mailID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return ids
}

// OpenAttachment returns an attachment's content.
func (s *Service) OpenAttachment(ctx context.Context, caller access.Caller, mailID, attachmentID string) (attachment.Content, error) {
	att, err := s.findAttachment(ctx, caller, mailID, attachmentID)
	if err != nil {
		return attachment.Content{}, err
	}
	return s.attachments.Open(ctx, att)
}

// AttachmentURL returns a short-lived download URL for an attachment.
func (s *Service) AttachmentURL(ctx context.Context, caller access.Caller, mailID, attachmentID string) (string, time.Time, error) {
	att, err := s.findAttachment(ctx, caller, mailID, attachmentID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.attachments.SignedURL(ctx, att)
}

func (s *Service) findAttachment(ctx context.Context, caller access.Caller, mailID, attachmentID string) (mail.StoredAttachment, error) {
	_, rec, err := s.load(ctx, caller, mailID)
	if err != nil {
		return mail.StoredAttachment{}, err
	}
	att, ok := rec.StoredAttachment(strings.TrimSpace(attachmentID))
	if !ok {
		return mail.StoredAttachment{}, attachment.ErrAttachmentNotFound
	}
	return att, nil
}

// mergeTags returns a followed by the ids of b it lacks.
func mergeTags(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
