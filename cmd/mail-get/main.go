// Package main implements the single mail and attachment Lambda handler.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/attachment"
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	routeGet           = "GET /api/mail/{id}"
	routeAttachment    = "GET /api/mail/{id}/attachments/{attachmentId}"
	routeAttachmentURL = "GET /api/mail/{id}/attachments/{attachmentId}/url"
)

// maxInlineBytes is the largest attachment returned in the response body.
// Larger ones redirect to a signed URL.
const maxInlineBytes = 5 * 1024 * 1024

var logger = logging.New()

// CallerSource identifies the caller of a request.
type CallerSource interface {
	Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error)
}

// MailReader reads single mails and their attachments.
type MailReader interface {
	GetOne(ctx context.Context, caller access.Caller, mailID string) (mail.Record, error)
	OpenAttachment(ctx context.Context, caller access.Caller, mailID, attachmentID string) (attachment.Content, error)
	AttachmentURL(ctx context.Context, caller access.Caller, mailID, attachmentID string) (string, time.Time, error)
}

// signedURLResponse is the body of the attachment URL route.
type signedURLResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

// handler implements the single mail routes.
type handler struct {
	auth  CallerSource
	mails MailReader
}

// newHandler creates a new handler.
func newHandler(auth CallerSource, mails MailReader) *handler {
	return &handler{
		auth:  auth,
		mails: mails,
	}
}

// handle serves a mail, an attachment or an attachment's signed URL.
func (h *handler) handle(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	tracer := tracing.Tracer("mail-get")
	ctx, span := tracer.Start(ctx, "MailGetHandler", trace.WithAttributes(
		attribute.String("route", request.RouteKey),
	))
	defer span.End()

	switch request.RouteKey {
	case routeGet, routeAttachment, routeAttachmentURL:
	default:
		return httpapi.NotFoundRoute(), nil
	}

	caller, err := h.auth.Caller(ctx, request)
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}

	mailID := httpapi.PathParam(request, "id")
	attachmentID := httpapi.PathParam(request, "attachmentId")
	span.SetAttributes(attribute.String("mail.id", mailID))

	switch request.RouteKey {
	case routeAttachment:
		return h.serveAttachment(ctx, caller, mailID, attachmentID), nil
	case routeAttachmentURL:
		url, expires, err := h.mails.AttachmentURL(ctx, caller, mailID, attachmentID)
		if err != nil {
			return httpapi.Error(ctx, logger, err), nil
		}
		return httpapi.JSON(http.StatusOK, signedURLResponse{
			URL:       url,
			ExpiresAt: mail.FormatTimestamp(expires),
		}), nil
	}

	rec, err := h.mails.GetOne(ctx, caller, mailID)
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}
	logger.InfoContext(ctx, "Mail get completed",
		slog.String("account_id", caller.AccountID),
		slog.String("mail_id", rec.ID),
	)
	return httpapi.JSON(http.StatusOK, rec), nil
}

// serveAttachment returns the attachment bytes, or a redirect to a signed
// URL when they do not fit in a Lambda response.
func (h *handler) serveAttachment(ctx context.Context, caller access.Caller, mailID, attachmentID string) events.APIGatewayV2HTTPResponse {
	content, err := h.mails.OpenAttachment(ctx, caller, mailID, attachmentID)
	if err != nil {
		return httpapi.Error(ctx, logger, err)
	}
	defer content.Body.Close()

	data, err := io.ReadAll(io.LimitReader(content.Body, maxInlineBytes+1))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read attachment",
			slog.String("mail_id", mailID),
			slog.String("attachment_id", attachmentID),
			slog.String("error", err.Error()),
		)
		return httpapi.Error(ctx, logger, err)
	}

	if len(data) > maxInlineBytes {
		url, _, err := h.mails.AttachmentURL(ctx, caller, mailID, attachmentID)
		if err != nil {
			return httpapi.Error(ctx, logger, err)
		}
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusFound,
			Headers:    map[string]string{"Location": url},
		}
	}

	contentType := content.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := content.Filename
	if filename == "" {
		filename = "attachment"
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":        contentType,
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
		},
		Body:            base64.StdEncoding.EncodeToString(data),
		IsBase64Encoded: true,
	}
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

	// S3 downloads stream through an instrumented HTTP client
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = httpClient
	})
	attachments := attachment.NewS3Store(s3Client, s3.NewPresignClient(s3Client), cfg.AttachmentBucket, cfg.SignedURLTTL)

	svc := inbox.NewService(inbox.Deps{
		Mails:       repo,
		Owners:      resolver,
		Tags:        mapping.NewTagStore(docs, nil, logger),
		Attachments: attachments,
		Rewriter:    rewriter,
		Logger:      logger,
	})

	h := newHandler(httpapi.NewAuthenticator(rewriter, directory, logger), svc)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
