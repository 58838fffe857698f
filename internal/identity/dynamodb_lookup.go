package identity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/dynamo"
)

// Account directory attributes and indexes.
const (
	AttrAccountID      = "accountId"
	AttrPlatformAlias  = "platformAlias"
	AttrLoginEmail     = "loginEmail"
	AttrSecondaryAlias = "secondaryAlias"

	IndexPlatformAlias = "platformAlias-index"
	IndexLoginEmail    = "loginEmail-index"

	ProfileSK = "PROFILE"
)

// DynamoDBClient defines the DynamoDB operations used by the account directory.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBDirectory reads the account directory table. It never writes.
type DynamoDBDirectory struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBDirectory creates a new DynamoDBDirectory.
func NewDynamoDBDirectory(client DynamoDBClient, tableName string) *DynamoDBDirectory {
	return &DynamoDBDirectory{
		client:    client,
		tableName: tableName,
	}
}

// FindByPlatformAlias returns the account whose platform alias is addr.
func (d *DynamoDBDirectory) FindByPlatformAlias(ctx context.Context, addr string) (string, error) {
	return d.findOne(ctx, IndexPlatformAlias, AttrPlatformAlias, addr)
}

// FindByLoginEmail returns the account whose login email is addr.
func (d *DynamoDBDirectory) FindByLoginEmail(ctx context.Context, addr string) (string, error) {
	return d.findOne(ctx, IndexLoginEmail, AttrLoginEmail, addr)
}

// GetProfile loads the addresses stored for an account. A missing account
// yields an empty profile.
func (d *DynamoDBDirectory) GetProfile(ctx context.Context, accountID string) (address.Profile, error) {
	output, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: ProfileSK},
		},
	})
	if err != nil {
		return address.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return address.Profile{
		LoginEmail:     stringAttr(output.Item, AttrLoginEmail),
		PlatformAlias:  stringAttr(output.Item, AttrPlatformAlias),
		SecondaryAlias: stringAttr(output.Item, AttrSecondaryAlias),
	}, nil
}

func (d *DynamoDBDirectory) findOne(ctx context.Context, indexName, attr, value string) (string, error) {
	output, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(indexName),
		KeyConditionExpression: aws.String("#attr = :value"),
		ExpressionAttributeNames: map[string]string{
			"#attr": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("query %s: %w", indexName, err)
	}
	if len(output.Items) == 0 {
		return "", nil
	}
	return stringAttr(output.Items[0], AttrAccountID), nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
