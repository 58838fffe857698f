// Package httpapi adapts API Gateway HTTP events to the mail service:
// caller identity, request decoding and JSON responses.
package httpapi

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/mailerr"
)

// Claims read from the authorizer context.
const (
	ClaimSubject        = "sub"
	ClaimRole           = "custom:role"
	ClaimEmail          = "email"
	ClaimPlatformAlias  = "custom:platformAlias"
	ClaimSecondaryAlias = "custom:secondaryAlias"
)

var ErrUnauthenticated = mailerr.Unauthenticated("unauthenticated", "request carries no caller identity")

// ProfileSource loads the stored addresses of an account.
type ProfileSource interface {
	GetProfile(ctx context.Context, accountID string) (address.Profile, error)
}

// Authenticator builds the caller of a request from the identity the API
// Gateway authorizer attached to it. Tokens are verified upstream.
type Authenticator struct {
	rewriter address.Rewriter
	profiles ProfileSource
	logger   *slog.Logger
}

// NewAuthenticator creates a new Authenticator. profiles may be nil, in which
// case only the claims are used.
func NewAuthenticator(rewriter address.Rewriter, profiles ProfileSource, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		rewriter: rewriter,
		profiles: profiles,
		logger:   logger,
	}
}

// Caller returns the request's caller. Profile addresses missing from the
// claims are filled from the account directory when one is configured.
func (a *Authenticator) Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error) {
	claims := authorizerClaims(request)
	accountID := strings.TrimSpace(claims[ClaimSubject])
	if accountID == "" {
		return access.Caller{}, ErrUnauthenticated
	}

	profile := address.Profile{
		LoginEmail:     claims[ClaimEmail],
		PlatformAlias:  claims[ClaimPlatformAlias],
		SecondaryAlias: claims[ClaimSecondaryAlias],
	}
	if profile.PlatformAlias == "" && a.profiles != nil {
		stored, err := a.profiles.GetProfile(ctx, accountID)
		if err != nil {
			a.logger.WarnContext(ctx, "Failed to load account profile",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
		} else {
			profile = mergeProfile(profile, stored)
		}
	}

	return access.Caller{
		AccountID: accountID,
		Role:      access.ParseRole(claims[ClaimRole]),
		Profile:   profile,
		Addresses: a.rewriter.Collect(profile),
	}, nil
}

// authorizerClaims flattens the Lambda authorizer context and JWT claims.
// Lambda authorizer values win.
func authorizerClaims(request events.APIGatewayV2HTTPRequest) map[string]string {
	claims := map[string]string{}
	auth := request.RequestContext.Authorizer
	if auth == nil {
		return claims
	}
	if auth.JWT != nil {
		for k, v := range auth.JWT.Claims {
			claims[k] = v
		}
	}
	for k, v := range auth.Lambda {
		if s, ok := v.(string); ok {
			claims[k] = s
		}
	}
	// Lambda authorizers commonly use plain keys.
	for plain, claim := range map[string]string{
		"accountId":      ClaimSubject,
		"role":           ClaimRole,
		"platformAlias":  ClaimPlatformAlias,
		"secondaryAlias": ClaimSecondaryAlias,
	} {
		if s, ok := auth.Lambda[plain].(string); ok && s != "" {
			claims[claim] = s
		}
	}
	return claims
}

func mergeProfile(claims, stored address.Profile) address.Profile {
	if claims.LoginEmail == "" {
		claims.LoginEmail = stored.LoginEmail
	}
	if claims.PlatformAlias == "" {
		claims.PlatformAlias = stored.PlatformAlias
	}
	if claims.SecondaryAlias == "" {
		claims.SecondaryAlias = stored.SecondaryAlias
	}
	return claims
}
