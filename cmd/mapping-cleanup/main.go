// Package main implements the mapping-cleanup SQS consumer Lambda handler.
// It replays folder and tag cascades that failed when the entry was deleted.
package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/mywed360/mail-service/internal/cleanup"
	svcconfig "github.com/mywed360/mail-service/internal/config"
	"github.com/mywed360/mail-service/internal/dynamo"
	"github.com/mywed360/mail-service/internal/mapping"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
)

var logger = logging.New()

// FolderStripper removes a deleted folder from the folder mapping.
type FolderStripper interface {
	StripFolder(ctx context.Context, accountID, folderID string) error
}

// TagStripper removes a deleted tag from the tag mapping.
type TagStripper interface {
	StripTag(ctx context.Context, accountID, tagID string) error
}

// handler implements the mapping-cleanup SQS consumer logic.
type handler struct {
	folders FolderStripper
	tags    TagStripper
}

// newHandler creates a new handler.
func newHandler(folders FolderStripper, tags TagStripper) *handler {
	return &handler{
		folders: folders,
		tags:    tags,
	}
}

// handle processes an SQS event containing cascade messages.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	tracer := tracing.Tracer("mail-mapping-cleanup")
	ctx, span := tracer.Start(ctx, "MappingCleanupHandler")
	defer span.End()

	var failures []events.SQSBatchItemFailure

	for _, record := range event.Records {
		msg, err := cleanup.Parse(record.Body)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to parse SQS message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		if err := h.strip(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "Failed to replay mapping cascade",
				slog.String("account_id", msg.AccountID),
				slog.String("kind", msg.Kind),
				slog.String("entry_id", msg.EntryID),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "Mapping cleanup batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

// strip removes the entry from its mapping. Stripping an id that is no
// longer mapped is a no-op.
func (h *handler) strip(ctx context.Context, msg cleanup.Message) error {
	if msg.Kind == cleanup.KindFolder {
		return h.folders.StripFolder(ctx, msg.AccountID, msg.EntryID)
	}
	return h.tags.StripTag(ctx, msg.AccountID, msg.EntryID)
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

	docs := dynamo.NewDocumentStore(dynamodb.NewFromConfig(awsCfg), cfg.MailTableName, cfg.MappingMaxAttempts)

	// Replays do not queue further retries; SQS redelivers failed records.
	h := newHandler(mapping.NewFolderStore(docs, nil, logger), mapping.NewTagStore(docs, nil, logger))
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
