package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mywed360/mail-service/internal/dynamo"
	"github.com/mywed360/mail-service/internal/mail"
)

// Settings document names, one document per account each.
const (
	DocFolders       = "emailFolders"
	DocFolderMapping = "emailFolderMapping"
	DocTags          = "emailTags"
	DocTagMapping    = "emailTagsMapping"
)

// DocumentStore is the versioned document primitive the stores build on.
type DocumentStore interface {
	Get(ctx context.Context, pk, sk string) (dynamo.Document, error)
	Put(ctx context.Context, pk, sk, payload string) error
	Transact(ctx context.Context, pk, sk string, fn dynamo.MutateFunc) error
}

// schema describes one kind of entry list.
type schema[E any] struct {
	doc      string
	sanitize func(raw RawEntry, now time.Time) (E, bool)
	id       func(E) string
	created  func(E) string
}

// entryTable is a per-account list of entries kept in a single document.
type entryTable[E any] struct {
	docs   DocumentStore
	schema schema[E]
	now    func() time.Time
}

func (t *entryTable[E]) list(ctx context.Context, accountID string) ([]E, error) {
	doc, err := t.docs.Get(ctx, accountKey(accountID), settingsKey(t.schema.doc))
	if err != nil {
		return nil, err
	}
	return t.decode(doc), nil
}

// replace stores raw wholesale after sanitizing it. Last writer wins.
func (t *entryTable[E]) replace(ctx context.Context, accountID string, raw []RawEntry) ([]E, error) {
	entries := t.sanitizeAll(raw)
	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.schema.doc, err)
	}
	if err := t.docs.Put(ctx, accountKey(accountID), settingsKey(t.schema.doc), string(payload)); err != nil {
		return nil, err
	}
	return entries, nil
}

// transact applies fn to the current list inside a versioned cycle. fn
// reports whether the list changed.
func (t *entryTable[E]) transact(ctx context.Context, accountID string, fn func(entries []E) ([]E, bool, error)) error {
	return t.docs.Transact(ctx, accountKey(accountID), settingsKey(t.schema.doc), func(current dynamo.Document) (string, bool, error) {
		next, changed, err := fn(t.decode(current))
		if err != nil || !changed {
			return "", false, err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return "", false, fmt.Errorf("encode %s: %w", t.schema.doc, err)
		}
		return string(payload), true, nil
	})
}

// decode tolerates missing and malformed payloads, which read as empty.
func (t *entryTable[E]) decode(doc dynamo.Document) []E {
	if !doc.Exists || doc.Payload == "" {
		return []E{}
	}
	var raw []RawEntry
	if err := json.Unmarshal([]byte(doc.Payload), &raw); err != nil {
		return []E{}
	}
	return t.sanitizeAll(raw)
}

// sanitizeAll drops invalid entries, keeps the first of duplicate ids and
// orders by creation time, oldest first.
func (t *entryTable[E]) sanitizeAll(raw []RawEntry) []E {
	now := t.now()
	out := make([]E, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		e, ok := t.schema.sanitize(r, now)
		if !ok {
			continue
		}
		id := t.schema.id(e)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := mail.ParseTimestamp(t.schema.created(out[i]))
		b, _ := mail.ParseTimestamp(t.schema.created(out[j]))
		return a.Before(b)
	})
	return out
}

func (t *entryTable[E]) indexOf(entries []E, id string) int {
	for i, e := range entries {
		if t.schema.id(e) == id {
			return i
		}
	}
	return -1
}

func accountKey(accountID string) string { return dynamo.AccountPK(accountID) }

func settingsKey(doc string) string { return dynamo.SettingsSK(doc) }
