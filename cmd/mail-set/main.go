// Package main implements the mail update Lambda handler: folder moves,
// tags and read state.
package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/cleanup"
	svcconfig "github.com/mywed360/mail-service/internal/config"
	"github.com/mywed360/mail-service/internal/dynamo"
	"github.com/mywed360/mail-service/internal/httpapi"
	"github.com/mywed360/mail-service/internal/identity"
	"github.com/mywed360/mail-service/internal/inbox"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/mapping"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	routeFolder      = "PUT /api/mail/{id}/folder"
	routeTags        = "POST /api/mail/{id}/tags"
	routeReadPatch   = "PATCH /api/mail/{id}/read"
	routeReadPost    = "POST /api/mail/{id}/read"
	routeUnreadPatch = "PATCH /api/mail/{id}/unread"
)

var logger = logging.New()

// CallerSource identifies the caller of a request.
type CallerSource interface {
	Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error)
}

// MailWriter updates mails on behalf of a caller.
type MailWriter interface {
	SetFolder(ctx context.Context, caller access.Caller, mailID string, move inbox.FolderMove) (inbox.FolderMoveResult, error)
	SetTags(ctx context.Context, caller access.Caller, mailID string, add, remove []string) ([]string, error)
	SetRead(ctx context.Context, caller access.Caller, mailID string, read bool) (mail.Record, error)
}

type folderRequest struct {
	Folder         string `json:"folder"`
	FolderID       string `json:"folderId"`
	Restore        bool   `json:"restore"`
	FallbackFolder string `json:"fallbackFolder"`
}

type tagsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

type tagsResponse struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

type readRequest struct {
	Read *bool `json:"read"`
}

// handler implements the mail update routes.
type handler struct {
	auth  CallerSource
	mails MailWriter
}

// newHandler creates a new handler.
func newHandler(auth CallerSource, mails MailWriter) *handler {
	return &handler{
		auth:  auth,
		mails: mails,
	}
}

// handle dispatches on the route key.
func (h *handler) handle(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	tracer := tracing.Tracer("mail-set")
	ctx, span := tracer.Start(ctx, "MailSetHandler", trace.WithAttributes(
		attribute.String("route", request.RouteKey),
	))
	defer span.End()

	switch request.RouteKey {
	case routeFolder, routeTags, routeReadPatch, routeReadPost, routeUnreadPatch:
	default:
		return httpapi.NotFoundRoute(), nil
	}

	caller, err := h.auth.Caller(ctx, request)
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}
	mailID := httpapi.PathParam(request, "id")
	span.SetAttributes(attribute.String("mail.id", mailID))

	switch request.RouteKey {
	case routeFolder:
		return h.setFolder(ctx, caller, mailID, request), nil
	case routeTags:
		return h.setTags(ctx, caller, mailID, request), nil
	case routeUnreadPatch:
		return h.setRead(ctx, caller, mailID, false), nil
	}

	var body readRequest
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}
	read := true
	if body.Read != nil {
		read = *body.Read
	}
	return h.setRead(ctx, caller, mailID, read), nil
}

func (h *handler) setFolder(ctx context.Context, caller access.Caller, mailID string, request events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	var body folderRequest
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return httpapi.Error(ctx, logger, err)
	}
	folder := body.Folder
	if folder == "" {
		folder = body.FolderID
	}

	result, err := h.mails.SetFolder(ctx, caller, mailID, inbox.FolderMove{
		Folder:         folder,
		Restore:        body.Restore,
		FallbackFolder: body.FallbackFolder,
	})
	if err != nil {
		return httpapi.Error(ctx, logger, err)
	}
	logger.InfoContext(ctx, "Mail folder updated",
		slog.String("account_id", caller.AccountID),
		slog.String("mail_id", mailID),
		slog.String("folder", result.Folder),
	)
	return httpapi.JSON(http.StatusOK, result)
}

func (h *handler) setTags(ctx context.Context, caller access.Caller, mailID string, request events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	var body tagsRequest
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return httpapi.Error(ctx, logger, err)
	}
	tags, err := h.mails.SetTags(ctx, caller, mailID, body.Add, body.Remove)
	if err != nil {
		return httpapi.Error(ctx, logger, err)
	}
	if tags == nil {
		tags = []string{}
	}
	return httpapi.JSON(http.StatusOK, tagsResponse{ID: mailID, Tags: tags})
}

func (h *handler) setRead(ctx context.Context, caller access.Caller, mailID string, read bool) events.APIGatewayV2HTTPResponse {
	rec, err := h.mails.SetRead(ctx, caller, mailID, read)
	if err != nil {
		return httpapi.Error(ctx, logger, err)
	}
	return httpapi.JSON(http.StatusOK, rec)
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
	docs := dynamo.NewDocumentStore(dynamoClient, cfg.MailTableName, cfg.MappingMaxAttempts)

	var retrier mapping.CascadeRetrier
	if cfg.CleanupQueueURL != "" {
		retrier = cleanup.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.CleanupQueueURL)
	}

	svc := inbox.NewService(inbox.Deps{
		Mails:    repo,
		Owners:   resolver,
		Folders:  mapping.NewFolderStore(docs, retrier, logger),
		Tags:     mapping.NewTagStore(docs, retrier, logger),
		Rewriter: rewriter,
		Logger:   logger,
	})

	h := newHandler(httpapi.NewAuthenticator(rewriter, directory, logger), svc)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
