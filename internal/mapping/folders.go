// Package mapping keeps the per-account folder and tag tables and their
// mail assignments, each in a single versioned document.
package mapping

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mywed360/mail-service/internal/mail"
)

// Cascade kinds handed to a CascadeRetrier.
const (
	CascadeFolder = "folder"
	CascadeTag    = "tag"
)

// CascadeRetrier takes over a cascade that failed after its delete
// committed.
type CascadeRetrier interface {
	PublishCascade(ctx context.Context, accountID, kind, entryID string) error
}

// FolderPatch carries the fields an update may change.
type FolderPatch struct {
	Name *string
}

// FolderStore manages custom folders and the mail to folder mapping.
type FolderStore struct {
	folders entryTable[Folder]
	mapping assignmentDoc[string]
	cascade CascadeRetrier
	logger  *slog.Logger
}

// NewFolderStore creates a new FolderStore. cascade may be nil.
func NewFolderStore(docs DocumentStore, cascade CascadeRetrier, logger *slog.Logger) *FolderStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderStore{
		folders: entryTable[Folder]{
			docs: docs,
			schema: schema[Folder]{
				doc:      DocFolders,
				sanitize: SanitizeFolder,
				id:       func(f Folder) string { return f.ID },
				created:  func(f Folder) string { return f.CreatedAt },
			},
			now: time.Now,
		},
		mapping: assignmentDoc[string]{docs: docs, doc: DocFolderMapping, clean: cleanFolderMapping},
		cascade: cascade,
		logger:  logger,
	}
}

// List returns the account's folders, oldest first.
func (s *FolderStore) List(ctx context.Context, accountID string) ([]Folder, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.folders.list(ctx, accountID)
}

// ReplaceAll stores raw as the complete folder list.
func (s *FolderStore) ReplaceAll(ctx context.Context, accountID string, raw []RawEntry) ([]Folder, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.folders.replace(ctx, accountID, raw)
}

// Create adds a folder. A new folder starts with no unread mail.
func (s *FolderStore) Create(ctx context.Context, accountID string, raw RawEntry) (Folder, error) {
	if accountID == "" {
		return Folder{}, ErrMissingAccount
	}
	now := s.folders.now()
	folder, ok := SanitizeFolder(raw, now)
	if !ok {
		return Folder{}, ErrInvalidFolder
	}
	folder.Unread = 0
	folder.UpdatedAt = mail.FormatTimestamp(now)

	err := s.folders.transact(ctx, accountID, func(entries []Folder) ([]Folder, bool, error) {
		if s.folders.indexOf(entries, folder.ID) >= 0 {
			return nil, false, ErrFolderExists
		}
		return append(entries, folder), true, nil
	})
	if err != nil {
		return Folder{}, err
	}
	return folder, nil
}

// Update renames a folder.
func (s *FolderStore) Update(ctx context.Context, accountID, id string, patch FolderPatch) (Folder, error) {
	if accountID == "" {
		return Folder{}, ErrMissingAccount
	}
	var name string
	if patch.Name != nil {
		name = SanitizeName(*patch.Name, MaxFolderNameLength)
	}
	if name == "" {
		return Folder{}, ErrNothingToUpdate
	}

	id = strings.TrimSpace(id)
	var updated Folder
	err := s.folders.transact(ctx, accountID, func(entries []Folder) ([]Folder, bool, error) {
		i := s.folders.indexOf(entries, id)
		if i < 0 {
			return nil, false, ErrFolderNotFound
		}
		entries[i].Name = name
		entries[i].UpdatedAt = mail.FormatTimestamp(s.folders.now())
		updated = entries[i]
		return entries, true, nil
	})
	if err != nil {
		return Folder{}, err
	}
	return updated, nil
}

// Delete removes a folder and then every mapping entry pointing at it.
// A failed cascade does not fail the delete.
func (s *FolderStore) Delete(ctx context.Context, accountID, id string) error {
	if accountID == "" {
		return ErrMissingAccount
	}
	id = strings.TrimSpace(id)
	err := s.folders.transact(ctx, accountID, func(entries []Folder) ([]Folder, bool, error) {
		i := s.folders.indexOf(entries, id)
		if i < 0 {
			return nil, false, ErrFolderNotFound
		}
		return append(entries[:i], entries[i+1:]...), true, nil
	})
	if err != nil {
		return err
	}

	if err := s.StripFolder(ctx, accountID, id); err != nil {
		handOffCascade(ctx, s.logger, s.cascade, accountID, CascadeFolder, id, err)
	}
	return nil
}

// StripFolder removes every mapping entry that points at folderID.
func (s *FolderStore) StripFolder(ctx context.Context, accountID, folderID string) error {
	_, err := s.mapping.transact(ctx, accountID, func(m map[string]string) bool {
		changed := false
		for mailID, f := range m {
			if f == folderID {
				delete(m, mailID)
				changed = true
			}
		}
		return changed
	})
	return err
}

// GetMapping returns the mail to folder mapping.
func (s *FolderStore) GetMapping(ctx context.Context, accountID string) (FolderMapping, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.mapping.get(ctx, accountID)
}

// SetMapping replaces the whole mapping. Last writer wins.
func (s *FolderStore) SetMapping(ctx context.Context, accountID string, raw map[string]any) (FolderMapping, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.mapping.put(ctx, accountID, raw)
}

// SetMappingForOne assigns mailID to folderID. An empty folderID removes
// the assignment.
func (s *FolderStore) SetMappingForOne(ctx context.Context, accountID, mailID, folderID string) (FolderMapping, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	mailID = strings.TrimSpace(mailID)
	if mailID == "" {
		return nil, ErrMissingMailID
	}
	folderID = strings.TrimSpace(folderID)
	return s.mapping.transact(ctx, accountID, func(m map[string]string) bool {
		current, ok := m[mailID]
		if folderID == "" {
			delete(m, mailID)
			return ok
		}
		if ok && current == folderID {
			return false
		}
		m[mailID] = folderID
		return true
	})
}

// DeleteMappingForOne removes mailID from the mapping.
func (s *FolderStore) DeleteMappingForOne(ctx context.Context, accountID, mailID string) (FolderMapping, error) {
	return s.SetMappingForOne(ctx, accountID, mailID, "")
}

// FolderFor returns the custom folder mailID is assigned to, or "".
func (s *FolderStore) FolderFor(ctx context.Context, accountID, mailID string) (string, error) {
	m, err := s.GetMapping(ctx, accountID)
	if err != nil {
		return "", err
	}
	return m[strings.TrimSpace(mailID)], nil
}

// AdjustUnread moves a folder's unread counter by delta, never below zero.
// Unknown folders are ignored.
func (s *FolderStore) AdjustUnread(ctx context.Context, accountID, folderID string, delta int) error {
	if accountID == "" {
		return ErrMissingAccount
	}
	if folderID == "" || delta == 0 {
		return nil
	}
	return s.folders.transact(ctx, accountID, func(entries []Folder) ([]Folder, bool, error) {
		i := s.folders.indexOf(entries, folderID)
		if i < 0 {
			return nil, false, nil
		}
		next := max(entries[i].Unread+delta, 0)
		if next == entries[i].Unread {
			return nil, false, nil
		}
		entries[i].Unread = next
		entries[i].UpdatedAt = mail.FormatTimestamp(s.folders.now())
		return entries, true, nil
	})
}

func handOffCascade(ctx context.Context, logger *slog.Logger, retrier CascadeRetrier, accountID, kind, entryID string, cause error) {
	logger.ErrorContext(ctx, "Mapping cascade failed",
		slog.String("account_id", accountID),
		slog.String("kind", kind),
		slog.String("entry_id", entryID),
		slog.String("error", cause.Error()),
	)
	if retrier == nil {
		return
	}
	if err := retrier.PublishCascade(ctx, accountID, kind, entryID); err != nil {
		logger.ErrorContext(ctx, "Failed to queue mapping cascade",
			slog.String("account_id", accountID),
			slog.String("kind", kind),
			slog.String("entry_id", entryID),
			slog.String("error", err.Error()),
		)
	}
}
