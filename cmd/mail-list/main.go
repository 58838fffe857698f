// Package main implements the mail listing Lambda handler.
package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/address"
	svcconfig "github.com/mywed360/mail-service/internal/config"
	"github.com/mywed360/mail-service/internal/httpapi"
	"github.com/mywed360/mail-service/internal/identity"
	"github.com/mywed360/mail-service/internal/inbox"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/retrieval"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	routeList = "GET /api/mail"
	routePage = "GET /api/mail/page"
)

var logger = logging.New()

// CallerSource identifies the caller of a request.
type CallerSource interface {
	Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error)
}

// MailLister lists folders for a caller.
type MailLister interface {
	List(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int) []mail.Record
	ListFolder(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int, cursor string) (retrieval.Page, error)
}

// handler implements the mail listing routes.
type handler struct {
	auth  CallerSource
	mails MailLister
}

// newHandler creates a new handler.
func newHandler(auth CallerSource, mails MailLister) *handler {
	return &handler{
		auth:  auth,
		mails: mails,
	}
}

// handle serves GET /api/mail and GET /api/mail/page.
func (h *handler) handle(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	tracer := tracing.Tracer("mail-list")
	ctx, span := tracer.Start(ctx, "MailListHandler", trace.WithAttributes(
		attribute.String("route", request.RouteKey),
	))
	defer span.End()

	if request.RouteKey != routeList && request.RouteKey != routePage {
		return httpapi.NotFoundRoute(), nil
	}

	caller, err := h.auth.Caller(ctx, request)
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}

	folder := httpapi.Query(request, "folder")
	if folder == "" {
		folder = mail.FolderInbox
	}
	user := httpapi.Query(request, "user")
	limit := httpapi.QueryInt(request, "limit")
	span.SetAttributes(attribute.String("folder", folder))

	if request.RouteKey == routeList {
		items := h.mails.List(ctx, caller, folder, user, limit)
		logger.InfoContext(ctx, "Mail list completed",
			slog.String("account_id", caller.AccountID),
			slog.String("folder", folder),
			slog.Int("count", len(items)),
		)
		return httpapi.JSON(http.StatusOK, items), nil
	}

	page, err := h.mails.ListFolder(ctx, caller, folder, user, limit, httpapi.Query(request, "cursor"))
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}
	logger.InfoContext(ctx, "Mail page completed",
		slog.String("account_id", caller.AccountID),
		slog.String("folder", folder),
		slog.Int("count", len(page.Items)),
		slog.Bool("has_more", page.NextCursor != nil),
	)
	return httpapi.JSON(http.StatusOK, page), nil
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	cfg, err := svcconfig.Load()
	if err != nil {
		logger.Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
		panic(err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}

	// Instrument AWS SDK clients with OTel tracing
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	rewriter := address.NewRewriter(cfg.CanonicalAliasDomain, cfg.LegacyAliasDomain)
	directory := identity.NewDynamoDBDirectory(dynamoClient, cfg.AccountTableName)
	resolver := identity.NewResolver(directory, identity.NewMemoryCache(cfg.IdentityCacheTTL), rewriter, logger)
	repo := mail.NewRepository(dynamoClient, cfg.MailTableName)
	engine := retrieval.NewEngine(repo, resolver, retrieval.Config{
		DefaultLimit:   cfg.DefaultListLimit,
		MaxLimit:       cfg.MaxListLimit,
		ScanMultiplier: cfg.FallbackScanMultiplier,
		SafetyNetCap:   cfg.SafetyNetScanCap,
	}, logger)

	svc := inbox.NewService(inbox.Deps{
		Mails:    repo,
		Lister:   engine,
		Owners:   resolver,
		Rewriter: rewriter,
		Logger:   logger,
	})

	h := newHandler(httpapi.NewAuthenticator(rewriter, directory, logger), svc)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
