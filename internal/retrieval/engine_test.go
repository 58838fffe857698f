package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/mailerr"
)

type mockSource struct {
	mu sync.Mutex

	queryAccountFolderFunc func(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]mail.RawMail, error)
	listAccountMailsFunc   func(ctx context.Context, accountID string) ([]mail.RawMail, error)
	queryGlobalFolderFunc  func(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error)
	scanGlobalFolderFunc   func(ctx context.Context, folder string, max int) ([]mail.RawMail, error)

	scans []int
}

func (m *mockSource) QueryAccountFolder(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]mail.RawMail, error) {
	if m.queryAccountFolderFunc != nil {
		return m.queryAccountFolderFunc(ctx, accountID, folder, limit, cursor)
	}
	return nil, nil
}

func (m *mockSource) ListAccountMails(ctx context.Context, accountID string) ([]mail.RawMail, error) {
	if m.listAccountMailsFunc != nil {
		return m.listAccountMailsFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *mockSource) QueryGlobalFolder(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error) {
	if m.queryGlobalFolderFunc != nil {
		return m.queryGlobalFolderFunc(ctx, folder, filter, limit, cursor)
	}
	return nil, nil
}

func (m *mockSource) ScanGlobalFolder(ctx context.Context, folder string, max int) ([]mail.RawMail, error) {
	m.mu.Lock()
	m.scans = append(m.scans, max)
	m.mu.Unlock()
	if m.scanGlobalFolderFunc != nil {
		return m.scanGlobalFolderFunc(ctx, folder, max)
	}
	return nil, nil
}

type mockResolver struct {
	uid string
}

func (m *mockResolver) ResolveForAddresses(ctx context.Context, set *address.Set) string {
	return m.uid
}

// dated returns n inbox mails to addr, one day apart, newest first.
func dated(prefix, folder, addr string, n int) []mail.RawMail {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]mail.RawMail, n)
	for i := range out {
		out[i] = mail.RawMail{
			ID:     fmt.Sprintf("%s-%02d", prefix, i),
			Folder: folder,
			From:   "vendor@x.com",
			To:     mail.Single(addr),
			Date:   mail.FormatTimestamp(base.Add(-time.Duration(i) * 24 * time.Hour)),
		}
	}
	return out
}

// pageOf emulates an ordered store query over mails.
func pageOf(mails []mail.RawMail, limit int, cursor time.Time) []mail.RawMail {
	out := mail.OlderThan(append([]mail.RawMail(nil), mails...), cursor)
	mail.SortNewestFirst(out)
	return truncate(out, limit)
}

func TestFetchFolder_AccountPathPaginates(t *testing.T) {
	stored := dated("m", "inbox", "me@x.com", 5)
	source := &mockSource{
		queryAccountFolderFunc: func(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]mail.RawMail, error) {
			if accountID != "uid-1" || folder != "inbox" {
				t.Errorf("accountID/folder = %q/%q", accountID, folder)
			}
			return pageOf(stored, limit, cursor), nil
		},
	}
	engine := NewEngine(source, &mockResolver{uid: "uid-1"}, Config{}, nil)
	ctx := context.Background()
	addrs := address.NewSet("me@x.com")

	first := engine.FetchFolder(ctx, Query{Folder: "inbox", Addresses: addrs, Limit: 2})
	if len(first.Items) != 2 {
		t.Fatalf("len(first) = %d, want 2", len(first.Items))
	}
	if first.NextCursor == nil || *first.NextCursor != first.Items[1].Date {
		t.Fatalf("NextCursor = %v, want last item date", first.NextCursor)
	}

	second := engine.FetchFolder(ctx, Query{Folder: "inbox", Addresses: addrs, Limit: 2, Cursor: *first.NextCursor})
	seen := map[string]bool{first.Items[0].ID: true, first.Items[1].ID: true}
	for _, rec := range second.Items {
		if seen[rec.ID] {
			t.Errorf("item %s repeated across pages", rec.ID)
		}
		if rec.Date >= first.Items[1].Date {
			t.Errorf("item %s not strictly older than cursor", rec.ID)
		}
	}

	third := engine.FetchFolder(ctx, Query{Folder: "inbox", Addresses: addrs, Limit: 2, Cursor: *second.NextCursor})
	if len(third.Items) != 1 || third.NextCursor != nil {
		t.Errorf("last page = %d items, cursor %v; want 1 item and no cursor", len(third.Items), third.NextCursor)
	}
}

func TestFetchFolder_AccountFallbackSortsInProcess(t *testing.T) {
	stored := append(dated("in", "inbox", "me@x.com", 3), dated("out", "sent", "me@x.com", 2)...)
	source := &mockSource{
		queryAccountFolderFunc: func(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]mail.RawMail, error) {
			return nil, mailerr.IndexUnavailable(errors.New("no lsi"))
		},
		listAccountMailsFunc: func(ctx context.Context, accountID string) ([]mail.RawMail, error) {
			return []mail.RawMail{stored[2], stored[3], stored[0], stored[1], stored[4]}, nil
		},
	}
	engine := NewEngine(source, &mockResolver{uid: "uid-1"}, Config{}, nil)

	page := engine.FetchFolder(context.Background(), Query{Folder: "INBOX", Limit: 2})
	if len(page.Items) != 2 || page.Items[0].ID != "in-00" || page.Items[1].ID != "in-01" {
		t.Errorf("items = %v", ids(page.Items))
	}
}

func TestFetchFolder_GlobalIndexedWhenNoAccount(t *testing.T) {
	var gotFilter mail.AddressFilter
	source := &mockSource{
		queryGlobalFolderFunc: func(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error) {
			gotFilter = filter
			return dated("g", folder, "me@x.com", 1), nil
		},
	}
	engine := NewEngine(source, &mockResolver{}, Config{}, nil)

	page := engine.FetchFolder(context.Background(), Query{Folder: "sent", Addresses: address.NewSet("Me@X.com"), Limit: 10})
	if len(page.Items) != 1 {
		t.Fatalf("len = %d, want 1", len(page.Items))
	}
	if gotFilter.Field != mail.MatchSender || gotFilter.Address != "me@x.com" {
		t.Errorf("filter = %+v, want sender me@x.com", gotFilter)
	}
	if page.NextCursor != nil {
		t.Error("short page must not carry a cursor")
	}
}

func TestFetchFolder_IndexFallbackScansMultiple(t *testing.T) {
	mine := dated("mine", "inbox", "me@x.com", 2)
	source := &mockSource{
		queryGlobalFolderFunc: func(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error) {
			return nil, mailerr.IndexUnavailable(errors.New("missing gsi1"))
		},
		scanGlobalFolderFunc: func(ctx context.Context, folder string, max int) ([]mail.RawMail, error) {
			return mine, nil
		},
	}
	engine := NewEngine(source, &mockResolver{}, Config{}, nil)

	page := engine.FetchFolder(context.Background(), Query{Folder: "inbox", Addresses: address.NewSet("me@x.com"), Limit: 5})
	if len(page.Items) != 2 {
		t.Fatalf("len = %d, want 2", len(page.Items))
	}
	if len(source.scans) != 1 || source.scans[0] != 20 {
		t.Errorf("scans = %v, want [20]", source.scans)
	}
}

func TestFetchFolder_SafetyNetAfterIndexFallbackFindsNothing(t *testing.T) {
	others := dated("other", "inbox", "someone@x.com", 3)
	mine := dated("mine", "inbox", "me@x.com", 1)
	source := &mockSource{
		queryGlobalFolderFunc: func(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error) {
			return nil, mailerr.IndexUnavailable(errors.New("missing gsi1"))
		},
		scanGlobalFolderFunc: func(ctx context.Context, folder string, max int) ([]mail.RawMail, error) {
			if max == 4 {
				// Narrow scan only sees newer foreign mail.
				return others, nil
			}
			mine[0].Date = "2026-01-01T00:00:00.000Z"
			return append(append([]mail.RawMail(nil), others...), mine...), nil
		},
	}
	engine := NewEngine(source, &mockResolver{}, Config{}, nil)

	page := engine.FetchFolder(context.Background(), Query{Folder: "inbox", Addresses: address.NewSet("me@x.com"), Limit: 1})
	if len(page.Items) != 1 || page.Items[0].ID != "mine-00" {
		t.Errorf("items = %v, want [mine-00]", ids(page.Items))
	}
	if len(source.scans) != 2 || source.scans[1] != DefaultSafetyNetCap {
		t.Errorf("scans = %v, want [4 %d]", source.scans, DefaultSafetyNetCap)
	}
}

func TestFetchFolder_SafetyNetOnPlainFailure(t *testing.T) {
	source := &mockSource{
		queryGlobalFolderFunc: func(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error) {
			return nil, errors.New("throttled")
		},
		scanGlobalFolderFunc: func(ctx context.Context, folder string, max int) ([]mail.RawMail, error) {
			return dated("m", "inbox", "me@x.com", 2), nil
		},
	}
	engine := NewEngine(source, &mockResolver{}, Config{}, nil)

	page := engine.FetchFolder(context.Background(), Query{Folder: "inbox", Addresses: address.NewSet("me@x.com"), Limit: 10})
	if len(page.Items) != 2 {
		t.Errorf("len = %d, want 2", len(page.Items))
	}
}

func TestFetchFolder_NoSafetyNetWhenPrimarySucceeds(t *testing.T) {
	source := &mockSource{}
	engine := NewEngine(source, &mockResolver{}, Config{}, nil)

	page := engine.FetchFolder(context.Background(), Query{Folder: "inbox", Addresses: address.NewSet("me@x.com")})
	if len(page.Items) != 0 || page.Items == nil {
		t.Errorf("items = %v, want empty non-nil", page.Items)
	}
	if len(source.scans) != 0 {
		t.Errorf("scans = %v, want none", source.scans)
	}
}

func TestFetchFolder_EverythingFailsYieldsEmpty(t *testing.T) {
	source := &mockSource{
		queryAccountFolderFunc: func(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]mail.RawMail, error) {
			return nil, errors.New("down")
		},
		listAccountMailsFunc: func(ctx context.Context, accountID string) ([]mail.RawMail, error) {
			return nil, errors.New("down")
		},
		queryGlobalFolderFunc: func(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error) {
			return nil, errors.New("down")
		},
		scanGlobalFolderFunc: func(ctx context.Context, folder string, max int) ([]mail.RawMail, error) {
			return nil, errors.New("down")
		},
	}
	engine := NewEngine(source, &mockResolver{uid: "uid-1"}, Config{}, nil)

	page := engine.FetchFolder(context.Background(), Query{Folder: "inbox", Limit: 3})
	if page.Items == nil || len(page.Items) != 0 || page.NextCursor != nil {
		t.Errorf("page = %+v, want empty", page)
	}
}

func TestFetchFolder_InvalidCursorIgnored(t *testing.T) {
	var gotCursor time.Time
	source := &mockSource{
		queryGlobalFolderFunc: func(ctx context.Context, folder string, filter mail.AddressFilter, limit int, cursor time.Time) ([]mail.RawMail, error) {
			gotCursor = cursor
			return nil, nil
		},
	}
	engine := NewEngine(source, &mockResolver{}, Config{}, nil)
	engine.FetchFolder(context.Background(), Query{Folder: "inbox", Cursor: "not-a-date"})
	if !gotCursor.IsZero() {
		t.Errorf("cursor = %v, want zero", gotCursor)
	}
}

func TestClampLimit(t *testing.T) {
	engine := NewEngine(&mockSource{}, &mockResolver{}, Config{}, nil)
	tests := []struct{ in, want int }{
		{0, 200}, {-5, 200}, {1, 1}, {499, 499}, {500, 500}, {10000, 500},
	}
	for _, tt := range tests {
		if got := engine.ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFetchAll_MergesFoldersNewestFirst(t *testing.T) {
	byFolder := map[string][]mail.RawMail{
		"inbox": dated("in", "inbox", "me@x.com", 3),
		"sent":  dated("out", "sent", "me@x.com", 2),
		"trash": nil,
	}
	byFolder["sent"][0].Date = "2026-07-01T00:00:00.000Z"

	var mu sync.Mutex
	var limits []int
	source := &mockSource{
		queryAccountFolderFunc: func(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]mail.RawMail, error) {
			mu.Lock()
			limits = append(limits, limit)
			mu.Unlock()
			if folder == "trash" {
				return nil, errors.New("trash unavailable")
			}
			return pageOf(byFolder[folder], limit, cursor), nil
		},
		listAccountMailsFunc: func(ctx context.Context, accountID string) ([]mail.RawMail, error) {
			return nil, errors.New("down")
		},
	}
	engine := NewEngine(source, &mockResolver{uid: "uid-1"}, Config{}, nil)

	records := engine.FetchAll(context.Background(), address.NewSet("me@x.com"), 3)
	got := ids(records)
	want := []string{"out-00", "in-00", "in-01"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("FetchAll() = %v, want %v", got, want)
	}
	for _, l := range limits {
		if l != DefaultLimit {
			t.Errorf("per-folder limit = %d, want %d", l, DefaultLimit)
		}
	}
}

func ids(records []mail.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
