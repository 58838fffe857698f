package inbox

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/mapping"
)

const maxPreviousFolders = 10

// FolderMove asks for a mail to change folder. Restore (or the folder
// names "restore" and "previous") takes a trashed mail back to where it
// came from, or to FallbackFolder when given.
type FolderMove struct {
	Folder         string
	Restore        bool
	FallbackFolder string
}

// FolderMoveResult is the mail's folder and trash bookkeeping after a move.
type FolderMoveResult struct {
	Folder    string          `json:"folder"`
	TrashMeta *mail.TrashMeta `json:"trashMeta"`
}

// SetFolder moves a mail and mirrors the move onto the owners' copies.
func (s *Service) SetFolder(ctx context.Context, caller access.Caller, mailID string, move FolderMove) (FolderMoveResult, error) {
	raw, rec, err := s.load(ctx, caller, mailID)
	if err != nil {
		return FolderMoveResult{}, err
	}

	previous := raw.Folder
	if previous == "" {
		previous = mail.FolderInbox
	}
	existing := mail.TrashMeta{}
	if raw.TrashMeta != nil {
		existing = *raw.TrashMeta.Clone()
	}

	target := resolveMoveTarget(move, previous, existing)
	now := mail.FormatTimestamp(s.now())
	next := planTrashMeta(previous, target, existing, caller.AccountID, now)
	if target == mail.FolderTrash {
		next.OwnerEmail = access.OwnerAddress(next.PreviousFolder, rec)
		if next.OwnerEmail == "" {
			next.OwnerEmail = existing.OwnerEmail
		}
	}

	owners := address.NewSet(access.OwnerAddress(previous, rec), existing.OwnerEmail, next.OwnerEmail)
	after := rec
	after.Folder = target
	after.TrashMeta = &next
	owners.Add(access.OwnerAddress(target, after))

	patch := mail.Patch{Folder: &target, UpdatedAt: now}
	result := FolderMoveResult{Folder: target}
	switch {
	case !next.IsZero():
		patch.TrashMeta = &next
		result.TrashMeta = &next
	case raw.TrashMeta != nil:
		patch.ClearTrashMeta = true
	}

	if err := s.mails.PatchMail(ctx, raw, patch); err != nil {
		return FolderMoveResult{}, err
	}
	s.syncOwnerCopies(ctx, caller, owners, raw, patch)
	return result, nil
}

// resolveMoveTarget applies restore semantics. A restore request on a mail
// outside trash leaves it where it is.
func resolveMoveTarget(move FolderMove, previous string, existing mail.TrashMeta) string {
	requested := strings.TrimSpace(move.Folder)
	wantsRestore := move.Restore || requested == "restore" || requested == "previous"
	if wantsRestore {
		if previous != mail.FolderTrash {
			return previous
		}
		requested = strings.TrimSpace(move.FallbackFolder)
		if requested == "" {
			requested = existing.PreviousFolder
		}
	}
	if requested == "" {
		return mail.FolderInbox
	}
	if lower := strings.ToLower(requested); mail.IsSystemFolder(lower) {
		return lower
	}
	return requested
}

// planTrashMeta computes the trash bookkeeping after moving from previous
// to target. OwnerEmail is left to the caller.
func planTrashMeta(previous, target string, existing mail.TrashMeta, movedBy, now string) mail.TrashMeta {
	next := existing
	next.PreviousFolders = slices.Clone(existing.PreviousFolders)

	if target == mail.FolderTrash {
		from := previous
		if previous == mail.FolderTrash {
			from = firstNonEmpty(existing.PreviousFolder, existing.RestoredTo, mail.FolderInbox)
		}
		next.PreviousFolder = from
		if !slices.Contains(next.PreviousFolders, from) {
			next.PreviousFolders = append([]string{from}, next.PreviousFolders...)
		}
		if len(next.PreviousFolders) > maxPreviousFolders {
			next.PreviousFolders = next.PreviousFolders[:maxPreviousFolders]
		}
		next.MovedAt = now
		if movedBy != "" {
			next.MovedBy = movedBy
		}
		next.RestoredAt = ""
		next.RestoredTo = ""
		return next
	}

	if previous == mail.FolderTrash {
		next.RestoredAt = now
		next.RestoredTo = target
		next.PreviousFolder = ""
		next.MovedAt = ""
		next.MovedBy = ""
		if len(next.PreviousFolders) == 0 {
			next.PreviousFolders = nil
		}
	}
	return next
}

// syncOwnerCopies patches the per-account copy of every owner. Failures
// are logged; the global document is authoritative.
func (s *Service) syncOwnerCopies(ctx context.Context, caller access.Caller, owners *address.Set, raw mail.RawMail, patch mail.Patch) {
	synced := map[string]bool{}
	for _, addr := range owners.Values() {
		uid := s.owners.ResolveUID(ctx, addr)
		if uid == "" || synced[uid] {
			continue
		}
		synced[uid] = true
		s.patchCopy(ctx, uid, raw, patch)
	}
	if owners.Len() == 0 && caller.AccountID != "" {
		s.patchCopy(ctx, caller.AccountID, raw, patch)
	}
}

func (s *Service) patchCopy(ctx context.Context, accountID string, raw mail.RawMail, patch mail.Patch) {
	err := s.mails.PatchAccountMail(ctx, accountID, raw, patch)
	if err == nil || errors.Is(err, mail.ErrMailNotFound) {
		return
	}
	s.logger.WarnContext(ctx, "Failed to sync account mail copy",
		slog.String("account_id", accountID),
		slog.String("mail_id", raw.ID),
		slog.String("error", err.Error()),
	)
}

// SetTags removes then adds tag ids on a mail for the caller's account.
// Removed ids are also dropped from the mail's inline tags.
func (s *Service) SetTags(ctx context.Context, caller access.Caller, mailID string, add, remove []string) ([]string, error) {
	if caller.AccountID == "" {
		return nil, ErrAccountRequired
	}
	raw, _, err := s.load(ctx, caller, mailID)
	if err != nil {
		return nil, err
	}

	m, err := s.tags.PatchMappingForOne(ctx, caller.AccountID, raw.ID, add, remove)
	if err != nil {
		return nil, err
	}

	inline := raw.Tags
	if len(remove) > 0 && len(inline) > 0 {
		drop := map[string]bool{}
		for _, id := range remove {
			drop[strings.TrimSpace(id)] = true
		}
		kept := slices.DeleteFunc(slices.Clone(inline), func(t string) bool { return drop[strings.TrimSpace(t)] })
		if len(kept) != len(inline) {
			if err := s.mails.PatchMail(ctx, raw, mail.Patch{Tags: &kept, UpdatedAt: mail.FormatTimestamp(s.now())}); err != nil {
				return nil, err
			}
			inline = kept
		}
	}
	return mergeTags(inline, m[raw.ID]), nil
}

// SetRead flags a mail read or unread, mirrors it onto the owner's copy and
// keeps the caller's custom folder counter in step.
func (s *Service) SetRead(ctx context.Context, caller access.Caller, mailID string, read bool) (mail.Record, error) {
	raw, rec, err := s.load(ctx, caller, mailID)
	if err != nil {
		return mail.Record{}, err
	}

	patch := mail.Patch{Read: &read, UpdatedAt: mail.FormatTimestamp(s.now())}
	if err := s.mails.PatchMail(ctx, raw, patch); err != nil {
		return mail.Record{}, err
	}
	s.syncOwnerCopies(ctx, caller, address.NewSet(access.OwnerAddress(rec.Folder, rec)), raw, patch)

	if raw.Read != read && caller.AccountID != "" && s.folders != nil {
		delta := 1
		if read {
			delta = -1
		}
		folderID, err := s.folders.FolderFor(ctx, caller.AccountID, raw.ID)
		if err == nil && folderID != "" {
			err = s.folders.AdjustUnread(ctx, caller.AccountID, folderID, delta)
		}
		if err != nil {
			s.logUnreadFailure(ctx, caller.AccountID, raw.ID, err)
		}
	}

	rec.Read = read
	rec.UpdatedAt = patch.UpdatedAt
	return rec, nil
}

// AssignFolder maps a mail to a custom folder for the caller's account. An
// unread mail carries its unread count to the new folder.
func (s *Service) AssignFolder(ctx context.Context, caller access.Caller, mailID, folderID string) (mapping.FolderMapping, error) {
	if caller.AccountID == "" {
		return nil, ErrAccountRequired
	}
	mailID = strings.TrimSpace(mailID)
	folderID = strings.TrimSpace(folderID)

	previous, err := s.folders.FolderFor(ctx, caller.AccountID, mailID)
	if err != nil {
		return nil, err
	}
	m, err := s.folders.SetMappingForOne(ctx, caller.AccountID, mailID, folderID)
	if err != nil {
		return nil, err
	}
	if previous == folderID {
		return m, nil
	}

	raw, err := s.mails.GetMail(ctx, mailID)
	if err != nil {
		if !errors.Is(err, mail.ErrMailNotFound) {
			s.logUnreadFailure(ctx, caller.AccountID, mailID, err)
		}
		return m, nil
	}
	if raw.Read {
		return m, nil
	}
	for folder, delta := range map[string]int{previous: -1, folderID: 1} {
		if folder == "" {
			continue
		}
		if err := s.folders.AdjustUnread(ctx, caller.AccountID, folder, delta); err != nil {
			s.logUnreadFailure(ctx, caller.AccountID, mailID, err)
		}
	}
	return m, nil
}

func (s *Service) logUnreadFailure(ctx context.Context, accountID, mailID string, err error) {
	s.logger.WarnContext(ctx, "Failed to update folder unread counter",
		slog.String("account_id", accountID),
		slog.String("mail_id", mailID),
		slog.String("error", err.Error()),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
