// Package main implements the custom mail folder Lambda handler.
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
	"github.com/mywed360/mail-service/internal/mailerr"
	"github.com/mywed360/mail-service/internal/mapping"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	routeList         = "GET /api/email-folders"
	routeReplace      = "PUT /api/email-folders"
	routeCreate       = "POST /api/email-folders"
	routeUpdate       = "PUT /api/email-folders/{folderId}"
	routeDelete       = "DELETE /api/email-folders/{folderId}"
	routeGetMapping   = "GET /api/email-folders/mapping"
	routeSetMapping   = "PUT /api/email-folders/mapping"
	routeSetForOne    = "PUT /api/email-folders/mapping/{emailId}"
	routeDeleteForOne = "DELETE /api/email-folders/mapping/{emailId}"
)

var (
	errFoldersArrayRequired  = mailerr.BadRequest("folders-array-required", "folders must be an array")
	errMappingObjectRequired = mailerr.BadRequest("mapping-object-required", "mapping must be an object")
)

var logger = logging.New()

// CallerSource identifies the caller of a request.
type CallerSource interface {
	Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error)
}

// FolderManager manages an account's custom folders and folder mapping.
type FolderManager interface {
	List(ctx context.Context, accountID string) ([]mapping.Folder, error)
	ReplaceAll(ctx context.Context, accountID string, raw []mapping.RawEntry) ([]mapping.Folder, error)
	Create(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Folder, error)
	Update(ctx context.Context, accountID, id string, patch mapping.FolderPatch) (mapping.Folder, error)
	Delete(ctx context.Context, accountID, id string) error
	GetMapping(ctx context.Context, accountID string) (mapping.FolderMapping, error)
	SetMapping(ctx context.Context, accountID string, raw map[string]any) (mapping.FolderMapping, error)
	DeleteMappingForOne(ctx context.Context, accountID, mailID string) (mapping.FolderMapping, error)
}

// FolderAssigner moves one mail into a custom folder, keeping unread
// counters in step.
type FolderAssigner interface {
	AssignFolder(ctx context.Context, caller access.Caller, mailID, folderID string) (mapping.FolderMapping, error)
}

type foldersBody struct {
	Folders *[]mapping.RawEntry `json:"folders"`
}

type folderUpdateBody struct {
	Name *string `json:"name"`
}

type mappingBody struct {
	Mapping map[string]any `json:"mapping"`
}

type assignBody struct {
	FolderID string `json:"folderId"`
}

// handler implements the folder routes.
type handler struct {
	auth     CallerSource
	folders  FolderManager
	assigner FolderAssigner
}

// newHandler creates a new handler.
func newHandler(auth CallerSource, folders FolderManager, assigner FolderAssigner) *handler {
	return &handler{
		auth:     auth,
		folders:  folders,
		assigner: assigner,
	}
}

// handle dispatches on the route key.
func (h *handler) handle(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	tracer := tracing.Tracer("mail-folders")
	ctx, span := tracer.Start(ctx, "FolderAPIHandler", trace.WithAttributes(
		attribute.String("route", request.RouteKey),
	))
	defer span.End()

	route, ok := h.route(request.RouteKey)
	if !ok {
		return httpapi.NotFoundRoute(), nil
	}

	caller, err := h.auth.Caller(ctx, request)
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}

	status, body, err := route(ctx, caller, request)
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}
	return httpapi.JSON(status, body), nil
}

type routeFunc func(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error)

func (h *handler) route(key string) (routeFunc, bool) {
	routes := map[string]routeFunc{
		routeList:         h.list,
		routeReplace:      h.replace,
		routeCreate:       h.create,
		routeUpdate:       h.update,
		routeDelete:       h.delete,
		routeGetMapping:   h.getMapping,
		routeSetMapping:   h.setMapping,
		routeSetForOne:    h.setForOne,
		routeDeleteForOne: h.deleteForOne,
	}
	fn, ok := routes[key]
	return fn, ok
}

func (h *handler) list(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	folders, err := h.folders.List(ctx, caller.AccountID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"folders": folders}, nil
}

func (h *handler) replace(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body foldersBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	if body.Folders == nil {
		return 0, nil, errFoldersArrayRequired
	}
	folders, err := h.folders.ReplaceAll(ctx, caller.AccountID, *body.Folders)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"folders": folders}, nil
}

func (h *handler) create(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body mapping.RawEntry
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	folder, err := h.folders.Create(ctx, caller.AccountID, body)
	if err != nil {
		return 0, nil, err
	}
	logger.InfoContext(ctx, "Folder created",
		slog.String("account_id", caller.AccountID),
		slog.String("folder_id", folder.ID),
	)
	return http.StatusCreated, map[string]any{"folder": folder}, nil
}

func (h *handler) update(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body folderUpdateBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	folder, err := h.folders.Update(ctx, caller.AccountID, httpapi.PathParam(request, "folderId"), mapping.FolderPatch{Name: body.Name})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"folder": folder}, nil
}

func (h *handler) delete(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	folderID := httpapi.PathParam(request, "folderId")
	if err := h.folders.Delete(ctx, caller.AccountID, folderID); err != nil {
		return 0, nil, err
	}
	logger.InfoContext(ctx, "Folder deleted",
		slog.String("account_id", caller.AccountID),
		slog.String("folder_id", folderID),
	)
	return http.StatusOK, map[string]any{"ok": true}, nil
}

func (h *handler) getMapping(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	m, err := h.folders.GetMapping(ctx, caller.AccountID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
}

func (h *handler) setMapping(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body mappingBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	if body.Mapping == nil {
		return 0, nil, errMappingObjectRequired
	}
	m, err := h.folders.SetMapping(ctx, caller.AccountID, body.Mapping)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
}

func (h *handler) setForOne(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body assignBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	m, err := h.assigner.AssignFolder(ctx, caller, httpapi.PathParam(request, "emailId"), body.FolderID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
}

func (h *handler) deleteForOne(ctx context.Context, caller access.Caller, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	m, err := h.folders.DeleteMappingForOne(ctx, caller.AccountID, httpapi.PathParam(request, "emailId"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
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
	docs := dynamo.NewDocumentStore(dynamoClient, cfg.MailTableName, cfg.MappingMaxAttempts)

	var retrier mapping.CascadeRetrier
	if cfg.CleanupQueueURL != "" {
		retrier = cleanup.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.CleanupQueueURL)
	}
	folders := mapping.NewFolderStore(docs, retrier, logger)

	svc := inbox.NewService(inbox.Deps{
		Mails:    mail.NewRepository(dynamoClient, cfg.MailTableName),
		Folders:  folders,
		Rewriter: rewriter,
		Logger:   logger,
	})

	h := newHandler(httpapi.NewAuthenticator(rewriter, directory, logger), folders, svc)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
