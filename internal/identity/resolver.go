// Package identity maps email addresses to account ids.
package identity

import (
	"context"
	"log/slog"

	"github.com/mywed360/mail-service/internal/address"
)

// AccountLookup finds the account owning an address.
// Implementations return "" with a nil error when nothing matches.
type AccountLookup interface {
	FindByPlatformAlias(ctx context.Context, addr string) (string, error)
	FindByLoginEmail(ctx context.Context, addr string) (string, error)
}

// Resolver resolves addresses to account ids through a Cache.
type Resolver struct {
	lookup   AccountLookup
	cache    Cache
	rewriter address.Rewriter
	logger   *slog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(lookup AccountLookup, cache Cache, rewriter address.Rewriter, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		lookup:   lookup,
		cache:    cache,
		rewriter: rewriter,
		logger:   logger,
	}
}

// ResolveUID returns the account id owning addr, or "".
// Lookup order: platform alias, legacy alias form, login email.
// Lookup failures are logged and not cached.
func (r *Resolver) ResolveUID(ctx context.Context, addr string) string {
	normalized := address.Normalize(addr)
	if normalized == "" {
		return ""
	}
	if uid, ok := r.cache.Get(normalized); ok {
		return uid
	}

	uid, err := r.find(ctx, normalized)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to resolve account for address",
			slog.String("address", normalized),
			slog.String("error", err.Error()),
		)
		return ""
	}

	r.cache.Set(normalized, uid)
	return uid
}

// ResolveForAddresses returns the first account id resolved from set, in
// set order.
func (r *Resolver) ResolveForAddresses(ctx context.Context, set *address.Set) string {
	for _, addr := range set.Values() {
		if uid := r.ResolveUID(ctx, addr); uid != "" {
			return uid
		}
	}
	return ""
}

func (r *Resolver) find(ctx context.Context, addr string) (string, error) {
	uid, err := r.lookup.FindByPlatformAlias(ctx, addr)
	if err != nil || uid != "" {
		return uid, err
	}

	if legacy := r.rewriter.LegacyAlias(addr); legacy != "" && legacy != addr {
		uid, err = r.lookup.FindByPlatformAlias(ctx, legacy)
		if err != nil || uid != "" {
			return uid, err
		}
	}

	return r.lookup.FindByLoginEmail(ctx, addr)
}
