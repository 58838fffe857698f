// Package main implements the mail tag Lambda handler: the tag list and the
// mail to tags mapping of the calling account.
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
	routeList         = "GET /api/email-tags"
	routeReplace      = "PUT /api/email-tags"
	routeCreate       = "POST /api/email-tags"
	routeUpdate       = "PUT /api/email-tags/{tagId}"
	routeDelete       = "DELETE /api/email-tags/{tagId}"
	routeGetMapping   = "GET /api/email-tags/mapping"
	routeSetMapping   = "PUT /api/email-tags/mapping"
	routeSetForOne    = "PUT /api/email-tags/mapping/{emailId}"
	routePatchForOne  = "POST /api/email-tags/mapping/{emailId}"
	routeDeleteForOne = "DELETE /api/email-tags/mapping/{emailId}"
)

var (
	errTagsArrayRequired     = mailerr.BadRequest("tags-array-required", "tags must be an array")
	errMappingObjectRequired = mailerr.BadRequest("mapping-object-required", "mapping must be an object")
)

var logger = logging.New()

// CallerSource identifies the caller of a request.
type CallerSource interface {
	Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error)
}

// TagManager manages an account's tags and tag assignments.
type TagManager interface {
	List(ctx context.Context, accountID string) ([]mapping.Tag, error)
	ReplaceAll(ctx context.Context, accountID string, raw []mapping.RawEntry) ([]mapping.Tag, error)
	Create(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Tag, error)
	Update(ctx context.Context, accountID, id string, patch mapping.TagPatch) (mapping.Tag, error)
	Delete(ctx context.Context, accountID, id string) error
	GetMapping(ctx context.Context, accountID string) (mapping.TagMapping, error)
	SetMapping(ctx context.Context, accountID string, raw map[string]any) (mapping.TagMapping, error)
	SetMappingForOne(ctx context.Context, accountID, mailID string, tagIDs []string) (mapping.TagMapping, error)
	PatchMappingForOne(ctx context.Context, accountID, mailID string, add, remove []string) (mapping.TagMapping, error)
	DeleteMappingForOne(ctx context.Context, accountID, mailID string) (mapping.TagMapping, error)
}

type tagsBody struct {
	Tags *[]mapping.RawEntry `json:"tags"`
}

type tagUpdateBody struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

type mappingBody struct {
	Mapping map[string]any `json:"mapping"`
}

type assignBody struct {
	Tags *[]string `json:"tags"`
}

type patchBody struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// handler implements the tag routes.
type handler struct {
	auth CallerSource
	tags TagManager
}

// newHandler creates a new handler.
func newHandler(auth CallerSource, tags TagManager) *handler {
	return &handler{
		auth: auth,
		tags: tags,
	}
}

// handle dispatches on the route key.
func (h *handler) handle(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	tracer := tracing.Tracer("mail-tags")
	ctx, span := tracer.Start(ctx, "TagAPIHandler", trace.WithAttributes(
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

	status, body, err := route(ctx, caller.AccountID, request)
	if err != nil {
		return httpapi.Error(ctx, logger, err), nil
	}
	return httpapi.JSON(status, body), nil
}

type routeFunc func(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error)

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
		routePatchForOne:  h.patchForOne,
		routeDeleteForOne: h.deleteForOne,
	}
	fn, ok := routes[key]
	return fn, ok
}

func (h *handler) list(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	tags, err := h.tags.List(ctx, accountID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"tags": tags}, nil
}

func (h *handler) replace(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body tagsBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	if body.Tags == nil {
		return 0, nil, errTagsArrayRequired
	}
	tags, err := h.tags.ReplaceAll(ctx, accountID, *body.Tags)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"tags": tags}, nil
}

func (h *handler) create(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body mapping.RawEntry
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	tag, err := h.tags.Create(ctx, accountID, body)
	if err != nil {
		return 0, nil, err
	}
	logger.InfoContext(ctx, "Tag created",
		slog.String("account_id", accountID),
		slog.String("tag_id", tag.ID),
	)
	return http.StatusCreated, map[string]any{"tag": tag}, nil
}

func (h *handler) update(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body tagUpdateBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	tag, err := h.tags.Update(ctx, accountID, httpapi.PathParam(request, "tagId"), mapping.TagPatch{
		Name:  body.Name,
		Color: body.Color,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"tag": tag}, nil
}

func (h *handler) delete(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	tagID := httpapi.PathParam(request, "tagId")
	if err := h.tags.Delete(ctx, accountID, tagID); err != nil {
		return 0, nil, err
	}
	logger.InfoContext(ctx, "Tag deleted",
		slog.String("account_id", accountID),
		slog.String("tag_id", tagID),
	)
	return http.StatusOK, map[string]any{"ok": true}, nil
}

func (h *handler) getMapping(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	m, err := h.tags.GetMapping(ctx, accountID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
}

func (h *handler) setMapping(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body mappingBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	if body.Mapping == nil {
		return 0, nil, errMappingObjectRequired
	}
	m, err := h.tags.SetMapping(ctx, accountID, body.Mapping)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
}

func (h *handler) setForOne(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body assignBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	if body.Tags == nil {
		return 0, nil, errTagsArrayRequired
	}
	m, err := h.tags.SetMappingForOne(ctx, accountID, httpapi.PathParam(request, "emailId"), *body.Tags)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
}

func (h *handler) patchForOne(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	var body patchBody
	if err := httpapi.DecodeBody(request, &body); err != nil {
		return 0, nil, err
	}
	m, err := h.tags.PatchMappingForOne(ctx, accountID, httpapi.PathParam(request, "emailId"), body.Add, body.Remove)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"mapping": m}, nil
}

func (h *handler) deleteForOne(ctx context.Context, accountID string, request events.APIGatewayV2HTTPRequest) (int, any, error) {
	m, err := h.tags.DeleteMappingForOne(ctx, accountID, httpapi.PathParam(request, "emailId"))
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

	h := newHandler(httpapi.NewAuthenticator(rewriter, directory, logger), mapping.NewTagStore(docs, retrier, logger))
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
