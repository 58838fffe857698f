package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mywed360/mail-service/internal/dynamo"
)

// FolderMapping maps a mail id to a custom folder id.
type FolderMapping map[string]string

// TagMapping maps a mail id to its tag ids. Lists are never empty.
type TagMapping map[string][]string

// assignmentDoc is a per-account mail id keyed document.
type assignmentDoc[V any] struct {
	docs  DocumentStore
	doc   string
	clean func(raw map[string]any) map[string]V
}

func (a *assignmentDoc[V]) get(ctx context.Context, accountID string) (map[string]V, error) {
	doc, err := a.docs.Get(ctx, accountKey(accountID), settingsKey(a.doc))
	if err != nil {
		return nil, err
	}
	return a.decode(doc), nil
}

// put overwrites the whole document. Last writer wins.
func (a *assignmentDoc[V]) put(ctx context.Context, accountID string, raw map[string]any) (map[string]V, error) {
	m := a.clean(raw)
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.doc, err)
	}
	if err := a.docs.Put(ctx, accountKey(accountID), settingsKey(a.doc), string(payload)); err != nil {
		return nil, err
	}
	return m, nil
}

// transact applies fn inside a versioned cycle and returns the mapping as
// it stands afterwards. fn mutates m in place and reports a change.
func (a *assignmentDoc[V]) transact(ctx context.Context, accountID string, fn func(m map[string]V) bool) (map[string]V, error) {
	var result map[string]V
	err := a.docs.Transact(ctx, accountKey(accountID), settingsKey(a.doc), func(current dynamo.Document) (string, bool, error) {
		m := a.decode(current)
		result = m
		if !fn(m) {
			return "", false, nil
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return "", false, fmt.Errorf("encode %s: %w", a.doc, err)
		}
		return string(payload), true, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *assignmentDoc[V]) decode(doc dynamo.Document) map[string]V {
	if !doc.Exists || doc.Payload == "" {
		return map[string]V{}
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(doc.Payload), &raw); err != nil {
		return map[string]V{}
	}
	return a.clean(raw)
}

func cleanFolderMapping(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for mailID, v := range raw {
		mailID = strings.TrimSpace(mailID)
		folderID := strings.TrimSpace(coerceString(v))
		if mailID == "" || folderID == "" {
			continue
		}
		out[mailID] = folderID
	}
	return out
}

func cleanTagMapping(raw map[string]any) map[string][]string {
	out := make(map[string][]string, len(raw))
	for mailID, v := range raw {
		mailID = strings.TrimSpace(mailID)
		if mailID == "" {
			continue
		}
		ids := cleanIDs(toStrings(v))
		if len(ids) == 0 {
			continue
		}
		out[mailID] = ids
	}
	return out
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, coerceString(e))
		}
		return out
	default:
		return nil
	}
}
