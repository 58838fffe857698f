// Package retrieval lists mails of a folder for a set of caller addresses,
// falling back through progressively cruder strategies when the preferred
// store path is unavailable.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/mail"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLimit          = 200
	MaxLimit              = 500
	DefaultScanMultiplier = 4
	DefaultSafetyNetCap   = 300
)

// Config tunes the engine. Zero values take the defaults.
type Config struct {
	DefaultLimit   int
	MaxLimit       int
	ScanMultiplier int
	SafetyNetCap   int
}

func (c Config) withDefaults() Config {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = MaxLimit
	}
	if c.ScanMultiplier <= 0 {
		c.ScanMultiplier = DefaultScanMultiplier
	}
	if c.SafetyNetCap <= 0 {
		c.SafetyNetCap = DefaultSafetyNetCap
	}
	return c
}

// Query asks for one page of a folder.
type Query struct {
	Folder    string
	Addresses *address.Set
	Limit     int
	Cursor    string
}

// Page is one page of canonical records. NextCursor is set only when the
// page is full.
type Page struct {
	Items      []mail.Record `json:"items"`
	NextCursor *string       `json:"nextCursor"`
}

// Engine answers folder listings.
type Engine struct {
	chain  chain
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a new Engine.
func NewEngine(source MailSource, resolver UIDResolver, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		chain: chain{
			strategies: []strategy{
				&accountStrategy{source: source, resolver: resolver, logger: logger},
				&globalIndexedStrategy{source: source, scanMultiplier: cfg.ScanMultiplier},
				&safetyNetStrategy{source: source, scanMultiplier: cfg.ScanMultiplier, scanCap: cfg.SafetyNetCap},
			},
			logger: logger,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// ClampLimit applies the default for non-positive limits and caps the rest.
func (e *Engine) ClampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultLimit
	}
	return min(limit, e.cfg.MaxLimit)
}

// FetchFolder returns one page of a folder. Store failures degrade to an
// empty page; they are never returned.
func (e *Engine) FetchFolder(ctx context.Context, q Query) Page {
	tracer := tracing.Tracer("mail-retrieval")
	ctx, span := tracer.Start(ctx, "retrieval.FetchFolder")
	defer span.End()

	a := &attempt{
		folder:    normalizeFolder(q.Folder),
		addresses: q.Addresses,
		limit:     e.ClampLimit(q.Limit),
	}
	if t, ok := mail.ParseTimestamp(strings.TrimSpace(q.Cursor)); ok {
		a.cursor = t
	}
	span.SetAttributes(
		attribute.String("mail.folder", a.folder),
		attribute.Int("mail.limit", a.limit),
	)

	items := e.chain.run(ctx, a)
	page := Page{Items: formatAll(items)}
	if len(page.Items) == a.limit && a.limit > 0 {
		cursor := page.Items[len(page.Items)-1].Timestamp()
		if cursor != "" {
			page.NextCursor = &cursor
		}
	}
	span.SetAttributes(attribute.Int("mail.count", len(page.Items)))
	return page
}

// FetchAll merges inbox, sent and trash, newest first. Each folder is read
// with max(limit, DefaultLimit) concurrently; no cursor is supported.
func (e *Engine) FetchAll(ctx context.Context, addrs *address.Set, limit int) []mail.Record {
	tracer := tracing.Tracer("mail-retrieval")
	ctx, span := tracer.Start(ctx, "retrieval.FetchAll", trace.WithAttributes(attribute.Int("mail.limit", limit)))
	defer span.End()

	limit = e.ClampLimit(limit)
	perFolder := max(limit, e.cfg.DefaultLimit)

	results := make([][]mail.RawMail, len(mail.AggregateFolders))
	g, gctx := errgroup.WithContext(ctx)
	for i, folder := range mail.AggregateFolders {
		g.Go(func() error {
			results[i] = e.chain.run(gctx, &attempt{
				folder:    folder,
				addresses: addrs,
				limit:     perFolder,
			})
			return nil
		})
	}
	_ = g.Wait()

	var merged []mail.RawMail
	for _, r := range results {
		merged = append(merged, r...)
	}
	mail.SortNewestFirst(merged)
	return formatAll(truncate(merged, limit))
}

func normalizeFolder(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return mail.FolderInbox
	}
	if lower := strings.ToLower(folder); mail.IsSystemFolder(lower) {
		return lower
	}
	return folder
}

func formatAll(items []mail.RawMail) []mail.Record {
	out := make([]mail.Record, 0, len(items))
	for _, m := range items {
		out = append(out, mail.Format(m))
	}
	return out
}
