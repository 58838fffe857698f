package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mywed360/mail-service/internal/mailerr"
)

// DefaultMaxAttempts bounds optimistic-concurrency retries in Transact.
const DefaultMaxAttempts = 5

// ErrRetriesExhausted is returned when Transact keeps losing the version race.
var ErrRetriesExhausted = mailerr.StoreUnavailable("conflict-retries-exhausted", errors.New("concurrent updates kept conflicting"))

// DocumentClient is the subset of DynamoDB used by DocumentStore.
type DocumentClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Document is a single versioned JSON payload stored under (pk, sk).
type Document struct {
	Payload string
	Version int64
	Exists  bool
}

// MutateFunc receives the current document and returns the next payload.
// Returning write=false leaves the document untouched. It may run several
// times under contention and must not have side effects beyond its result.
type MutateFunc func(current Document) (next string, write bool, err error)

// DocumentStore reads and writes versioned documents.
type DocumentStore struct {
	client      DocumentClient
	tableName   string
	maxAttempts int
	now         func() time.Time
}

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(client DocumentClient, tableName string, maxAttempts int) *DocumentStore {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &DocumentStore{
		client:      client,
		tableName:   tableName,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Get reads a document with strong consistency. A missing document is
// returned with Exists=false.
func (s *DocumentStore) Get(ctx context.Context, pk, sk string) (Document, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: pk},
			AttrSK: &types.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Document{}, fmt.Errorf("get document %s/%s: %w", pk, sk, err)
	}
	if output.Item == nil {
		return Document{}, nil
	}

	doc := Document{Exists: true}
	if v, ok := output.Item[AttrPayload].(*types.AttributeValueMemberS); ok {
		doc.Payload = v.Value
	}
	if v, ok := output.Item[AttrVersion].(*types.AttributeValueMemberN); ok {
		doc.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	return doc, nil
}

// Put overwrites the payload without a version check. The version is still
// bumped so concurrent Transact calls notice the write.
func (s *DocumentStore) Put(ctx context.Context, pk, sk, payload string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: pk},
			AttrSK: &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("SET #payload = :payload, #updatedAt = :updatedAt ADD #version :one"),
		ExpressionAttributeNames: map[string]string{
			"#payload":   AttrPayload,
			"#updatedAt": AttrUpdatedAt,
			"#version":   AttrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":payload":   &types.AttributeValueMemberS{Value: payload},
			":updatedAt": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
			":one":       &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("put document %s/%s: %w", pk, sk, err)
	}
	return nil
}

// Transact runs a read-modify-write cycle guarded by the version attribute,
// retrying when another writer got there first.
func (s *DocumentStore) Transact(ctx context.Context, pk, sk string, fn MutateFunc) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		current, err := s.Get(ctx, pk, sk)
		if err != nil {
			return err
		}

		next, write, err := fn(current)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}

		err = s.putVersioned(ctx, pk, sk, next, current)
		if err == nil {
			return nil
		}
		if !IsConditionFailed(err) {
			return fmt.Errorf("write document %s/%s: %w", pk, sk, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrRetriesExhausted
}

func (s *DocumentStore) putVersioned(ctx context.Context, pk, sk, payload string, current Document) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			AttrPK:        &types.AttributeValueMemberS{Value: pk},
			AttrSK:        &types.AttributeValueMemberS{Value: sk},
			AttrPayload:   &types.AttributeValueMemberS{Value: payload},
			AttrVersion:   &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version+1, 10)},
			AttrUpdatedAt: &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
		},
	}
	if current.Exists {
		input.ConditionExpression = aws.String("#version = :expected")
		if current.Version == 0 {
			input.ConditionExpression = aws.String("attribute_not_exists(#version) OR #version = :expected")
		}
		input.ExpressionAttributeNames = map[string]string{"#version": AttrVersion}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
		}
	} else {
		input.ConditionExpression = aws.String("attribute_not_exists(pk)")
	}
	_, err := s.client.PutItem(ctx, input)
	return err
}
