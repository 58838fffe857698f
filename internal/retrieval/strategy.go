package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/mailerr"
)

// MailSource is the mail store as seen by the engine.
type MailSource interface {
	QueryAccountFolder(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]mail.RawMail, error)
	ListAccountMails(ctx context.Context, accountID string) ([]mail.RawMail, error)
	QueryGlobalFolder(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error)
	ScanGlobalFolder(ctx context.Context, folder string, max int) ([]mail.RawMail, error)
}

// UIDResolver maps a caller's addresses to an account id.
type UIDResolver interface {
	ResolveForAddresses(ctx context.Context, set *address.Set) string
}

// strategy is one way of answering a folder query.
type strategy interface {
	Name() string
	Fetch(ctx context.Context, q *attempt) ([]mail.RawMail, error)
}

// attempt is a query in flight. Strategies may record state on it for the
// strategies after them.
type attempt struct {
	folder    string
	addresses *address.Set
	limit     int
	cursor    time.Time

	globalPrimaryFailed bool
}

// chain runs strategies in order. The first one returning a non-empty result
// wins; errors are logged and the next strategy is tried.
type chain struct {
	strategies []strategy
	logger     *slog.Logger
}

func (c chain) run(ctx context.Context, q *attempt) []mail.RawMail {
	for _, s := range c.strategies {
		items, err := s.Fetch(ctx, q)
		if err != nil {
			c.logger.WarnContext(ctx, "Retrieval strategy failed",
				slog.String("strategy", s.Name()),
				slog.String("folder", q.folder),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(items) > 0 {
			return items
		}
	}
	return []mail.RawMail{}
}

// accountStrategy reads the caller's own per-account copies.
type accountStrategy struct {
	source   MailSource
	resolver UIDResolver
	logger   *slog.Logger
}

func (s *accountStrategy) Name() string { return "account" }

func (s *accountStrategy) Fetch(ctx context.Context, q *attempt) ([]mail.RawMail, error) {
	uid := s.resolver.ResolveForAddresses(ctx, q.addresses)
	if uid == "" {
		return nil, nil
	}

	items, err := s.source.QueryAccountFolder(ctx, uid, q.folder, q.limit, q.cursor)
	if err == nil {
		return items, nil
	}

	s.logger.WarnContext(ctx, "Ordered account query failed, sorting in process",
		slog.String("account_id", uid),
		slog.String("folder", q.folder),
		slog.String("error", err.Error()),
	)
	all, err := s.source.ListAccountMails(ctx, uid)
	if err != nil {
		return nil, err
	}
	items = mail.OlderThan(mail.FilterByFolder(all, q.folder), q.cursor)
	mail.SortNewestFirst(items)
	return truncate(items, q.limit), nil
}

// globalIndexedStrategy queries the global collection through its indexes,
// scanning by folder when the index is not available.
type globalIndexedStrategy struct {
	source         MailSource
	scanMultiplier int
}

func (s *globalIndexedStrategy) Name() string { return "global-indexed" }

func (s *globalIndexedStrategy) Fetch(ctx context.Context, q *attempt) ([]mail.RawMail, error) {
	items, err := s.source.QueryGlobalFolder(ctx, q.folder, addressFilterFor(q), q.limit, q.cursor)
	if err == nil {
		return items, nil
	}

	q.globalPrimaryFailed = true
	if !errors.Is(err, mailerr.ErrIndexUnavailable) {
		return nil, err
	}

	candidates, err := s.source.ScanGlobalFolder(ctx, q.folder, s.scanMultiplier*q.limit)
	if err != nil {
		return nil, err
	}
	candidates = mail.OlderThan(candidates, q.cursor)
	mail.SortNewestFirst(candidates)
	candidates = truncate(candidates, q.limit)
	if q.addresses.Len() > 0 {
		candidates = mail.FilterByAddresses(candidates, q.folder, q.addresses)
		mail.SortNewestFirst(candidates)
		candidates = truncate(candidates, q.limit)
	}
	return candidates, nil
}

// safetyNetStrategy runs a wider scan after the indexed query threw.
type safetyNetStrategy struct {
	source         MailSource
	scanMultiplier int
	scanCap        int
}

func (s *safetyNetStrategy) Name() string { return "safety-net" }

func (s *safetyNetStrategy) Fetch(ctx context.Context, q *attempt) ([]mail.RawMail, error) {
	if !q.globalPrimaryFailed {
		return nil, nil
	}
	candidates, err := s.source.ScanGlobalFolder(ctx, q.folder, max(s.scanMultiplier*q.limit, s.scanCap))
	if err != nil {
		return nil, err
	}
	candidates = mail.FilterByAddresses(candidates, q.folder, q.addresses)
	candidates = mail.OlderThan(candidates, q.cursor)
	mail.SortNewestFirst(candidates)
	return truncate(candidates, q.limit), nil
}

// addressFilterFor picks the indexed participant: the sender for sent, the
// recipient otherwise. Without a known address the query is folder-only.
func addressFilterFor(q *attempt) mail.AddressFilter {
	target := q.addresses.First()
	if target == "" {
		return mail.AddressFilter{}
	}
	if strings.ToLower(q.folder) == mail.FolderSent {
		return mail.AddressFilter{Field: mail.MatchSender, Address: target}
	}
	return mail.AddressFilter{Field: mail.MatchRecipient, Address: target}
}

func truncate(items []mail.RawMail, limit int) []mail.RawMail {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
