package mapping

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mywed360/mail-service/internal/mail"
)

// TagPatch carries the fields an update may change.
type TagPatch struct {
	Name  *string
	Color *string
}

// TagStore manages tags and the mail to tags mapping.
type TagStore struct {
	tags    entryTable[Tag]
	mapping assignmentDoc[[]string]
	cascade CascadeRetrier
	logger  *slog.Logger
}

// NewTagStore creates a new TagStore. cascade may be nil.
func NewTagStore(docs DocumentStore, cascade CascadeRetrier, logger *slog.Logger) *TagStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TagStore{
		tags: entryTable[Tag]{
			docs: docs,
			schema: schema[Tag]{
				doc:      DocTags,
				sanitize: SanitizeTag,
				id:       func(t Tag) string { return t.ID },
				created:  func(t Tag) string { return t.CreatedAt },
			},
			now: time.Now,
		},
		mapping: assignmentDoc[[]string]{docs: docs, doc: DocTagMapping, clean: cleanTagMapping},
		cascade: cascade,
		logger:  logger,
	}
}

// List returns the account's tags, oldest first.
func (s *TagStore) List(ctx context.Context, accountID string) ([]Tag, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.tags.list(ctx, accountID)
}

// ReplaceAll stores raw as the complete tag list.
func (s *TagStore) ReplaceAll(ctx context.Context, accountID string, raw []RawEntry) ([]Tag, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.tags.replace(ctx, accountID, raw)
}

// Create adds a tag.
func (s *TagStore) Create(ctx context.Context, accountID string, raw RawEntry) (Tag, error) {
	if accountID == "" {
		return Tag{}, ErrMissingAccount
	}
	now := s.tags.now()
	tag, ok := SanitizeTag(raw, now)
	if !ok {
		return Tag{}, ErrInvalidTag
	}
	tag.UpdatedAt = mail.FormatTimestamp(now)

	err := s.tags.transact(ctx, accountID, func(entries []Tag) ([]Tag, bool, error) {
		if s.tags.indexOf(entries, tag.ID) >= 0 {
			return nil, false, ErrTagExists
		}
		return append(entries, tag), true, nil
	})
	if err != nil {
		return Tag{}, err
	}
	return tag, nil
}

// Update changes a tag's name or color. A blank name is ignored; a color
// that fails validation resets to DefaultTagColor.
func (s *TagStore) Update(ctx context.Context, accountID, id string, patch TagPatch) (Tag, error) {
	if accountID == "" {
		return Tag{}, ErrMissingAccount
	}
	var name string
	if patch.Name != nil {
		name = SanitizeName(*patch.Name, MaxTagNameLength)
	}
	if name == "" && patch.Color == nil {
		return Tag{}, ErrNothingToUpdate
	}

	id = strings.TrimSpace(id)
	var updated Tag
	err := s.tags.transact(ctx, accountID, func(entries []Tag) ([]Tag, bool, error) {
		i := s.tags.indexOf(entries, id)
		if i < 0 {
			return nil, false, ErrTagNotFound
		}
		if name != "" {
			entries[i].Name = name
		}
		if patch.Color != nil {
			entries[i].Color = SanitizeColor(*patch.Color)
		}
		entries[i].UpdatedAt = mail.FormatTimestamp(s.tags.now())
		updated = entries[i]
		return entries, true, nil
	})
	if err != nil {
		return Tag{}, err
	}
	return updated, nil
}

// Delete removes a tag and then strips it from every mail. A failed
// cascade does not fail the delete.
func (s *TagStore) Delete(ctx context.Context, accountID, id string) error {
	if accountID == "" {
		return ErrMissingAccount
	}
	id = strings.TrimSpace(id)
	err := s.tags.transact(ctx, accountID, func(entries []Tag) ([]Tag, bool, error) {
		i := s.tags.indexOf(entries, id)
		if i < 0 {
			return nil, false, ErrTagNotFound
		}
		return append(entries[:i], entries[i+1:]...), true, nil
	})
	if err != nil {
		return err
	}

	if err := s.StripTag(ctx, accountID, id); err != nil {
		handOffCascade(ctx, s.logger, s.cascade, accountID, CascadeTag, id, err)
	}
	return nil
}

// StripTag removes tagID from every mail, dropping mails left untagged.
func (s *TagStore) StripTag(ctx context.Context, accountID, tagID string) error {
	_, err := s.mapping.transact(ctx, accountID, func(m map[string][]string) bool {
		changed := false
		for mailID, ids := range m {
			if !slices.Contains(ids, tagID) {
				continue
			}
			changed = true
			rest := slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return id == tagID })
			if len(rest) == 0 {
				delete(m, mailID)
			} else {
				m[mailID] = rest
			}
		}
		return changed
	})
	return err
}

// GetMapping returns the mail to tags mapping.
func (s *TagStore) GetMapping(ctx context.Context, accountID string) (TagMapping, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.mapping.get(ctx, accountID)
}

// SetMapping replaces the whole mapping. Last writer wins.
func (s *TagStore) SetMapping(ctx context.Context, accountID string, raw map[string]any) (TagMapping, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	return s.mapping.put(ctx, accountID, raw)
}

// SetMappingForOne replaces the tags of mailID. An empty list removes it.
func (s *TagStore) SetMappingForOne(ctx context.Context, accountID, mailID string, tagIDs []string) (TagMapping, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	mailID = strings.TrimSpace(mailID)
	if mailID == "" {
		return s.GetMapping(ctx, accountID)
	}
	ids := cleanIDs(tagIDs)
	return s.mapping.transact(ctx, accountID, func(m map[string][]string) bool {
		current, ok := m[mailID]
		if len(ids) == 0 {
			delete(m, mailID)
			return ok
		}
		if ok && slices.Equal(current, ids) {
			return false
		}
		m[mailID] = ids
		return true
	})
}

// PatchMappingForOne removes then adds tag ids on mailID. Added ids keep
// their order after the surviving ones; an empty result removes the mail.
func (s *TagStore) PatchMappingForOne(ctx context.Context, accountID, mailID string, add, remove []string) (TagMapping, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	mailID = strings.TrimSpace(mailID)
	add, remove = cleanIDs(add), cleanIDs(remove)
	if mailID == "" || (len(add) == 0 && len(remove) == 0) {
		return s.GetMapping(ctx, accountID)
	}
	return s.mapping.transact(ctx, accountID, func(m map[string][]string) bool {
		current := m[mailID]
		next := slices.DeleteFunc(slices.Clone(current), func(id string) bool { return slices.Contains(remove, id) })
		for _, id := range add {
			if !slices.Contains(next, id) {
				next = append(next, id)
			}
		}
		if slices.Equal(current, next) {
			return false
		}
		if len(next) == 0 {
			delete(m, mailID)
		} else {
			m[mailID] = next
		}
		return true
	})
}

// DeleteMappingForOne removes mailID from the mapping.
func (s *TagStore) DeleteMappingForOne(ctx context.Context, accountID, mailID string) (TagMapping, error) {
	return s.SetMappingForOne(ctx, accountID, mailID, nil)
}

// TagsFor returns the tag ids assigned to mailID.
func (s *TagStore) TagsFor(ctx context.Context, accountID, mailID string) ([]string, error) {
	m, err := s.GetMapping(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return m[strings.TrimSpace(mailID)], nil
}
