// Package cleanup queues mapping cascades that failed inline so a consumer
// can replay them.
package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Kinds of mapping entry a cascade strips.
const (
	KindFolder = "folder"
	KindTag    = "tag"
)

// ErrInvalidMessage is returned by Parse for bodies that cannot be replayed.
var ErrInvalidMessage = errors.New("invalid cleanup message")

// Message is the SQS body of a cascade request.
type Message struct {
	AccountID string `json:"accountId"`
	Kind      string `json:"kind"`
	EntryID   string `json:"entryId"`
}

// Validate reports whether m names a known kind and both ids.
func (m Message) Validate() error {
	if m.AccountID == "" || m.EntryID == "" {
		return fmt.Errorf("%w: missing account or entry id", ErrInvalidMessage)
	}
	if m.Kind != KindFolder && m.Kind != KindTag {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Parse decodes and validates a message body.
func Parse(body string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes cascade requests to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
	}
}

// PublishCascade sends a cascade request to SQS.
func (p *SQSPublisher) PublishCascade(ctx context.Context, accountID, kind, entryID string) error {
	msg := Message{
		AccountID: accountID,
		Kind:      kind,
		EntryID:   entryID,
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("send cleanup message: %w", err)
	}
	return nil
}
