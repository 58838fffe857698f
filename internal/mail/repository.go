package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mywed360/mail-service/internal/address"
	"github.com/mywed360/mail-service/internal/dynamo"
	"github.com/mywed360/mail-service/internal/mailerr"
)

// ErrMailNotFound is returned when a mail document does not exist.
var ErrMailNotFound = mailerr.NotFound("not-found", "mail not found")

// MatchField selects which participant an indexed global query matches.
type MatchField int

const (
	MatchNone MatchField = iota
	MatchRecipient
	MatchSender
)

// AddressFilter narrows an indexed global query to one participant.
type AddressFilter struct {
	Field   MatchField
	Address string
}

// Patch lists the fields to change on a mail. Nil fields are left alone.
type Patch struct {
	Folder         *string
	Read           *bool
	Tags           *[]string
	TrashMeta      *TrashMeta
	ClearTrashMeta bool
	UpdatedAt      string
}

// DynamoDBClient defines the DynamoDB operations used by Repository.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Repository reads and patches global mail documents and per-account copies.
type Repository struct {
	client    DynamoDBClient
	tableName string
}

// NewRepository creates a new Repository.
func NewRepository(client DynamoDBClient, tableName string) *Repository {
	return &Repository{
		client:    client,
		tableName: tableName,
	}
}

// AccountSortKey is the lsi1 sort key of a per-account copy.
func AccountSortKey(folder, date string) string {
	return dynamo.PrefixFolder + folder + "#" + date
}

// RecipientIndexKey is the gsi1 partition key of a global document.
func RecipientIndexKey(folder, to string) string {
	return dynamo.PrefixFolder + folder + "#TO#" + to
}

// SenderIndexKey is the gsi2 partition key of a global document.
func SenderIndexKey(folder, from string) string {
	return dynamo.PrefixFolder + folder + "#FROM#" + from
}

// FolderIndexKey is the gsi3 partition key of a global document.
func FolderIndexKey(folder string) string {
	return dynamo.PrefixFolder + folder
}

// GetMail loads a global mail document.
func (r *Repository) GetMail(ctx context.Context, mailID string) (RawMail, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       globalKey(mailID),
	})
	if err != nil {
		return RawMail{}, fmt.Errorf("get mail: %w", err)
	}
	if output.Item == nil {
		return RawMail{}, ErrMailNotFound
	}
	m := DecodeItem(output.Item)
	if m.ID == "" {
		m.ID = mailID
	}
	return m, nil
}

// QueryAccountFolder returns up to limit mails of one folder from an
// account's copies, newest first, strictly older than cursor when set.
func (r *Repository) QueryAccountFolder(ctx context.Context, accountID, folder string, limit int, cursor time.Time) ([]RawMail, error) {
	input := &dynamodb.QueryInput{
		TableName:        aws.String(r.tableName),
		IndexName:        aws.String(dynamo.IndexLSI1),
		ScanIndexForward: aws.Bool(false),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
		},
	}
	want := limit
	if cursor.IsZero() {
		input.KeyConditionExpression = aws.String("pk = :pk AND begins_with(lsi1sk, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: AccountSortKey(folder, "")}
	} else {
		// BETWEEN is inclusive; the cursor item itself is dropped below.
		want = limit + 1
		input.KeyConditionExpression = aws.String("pk = :pk AND lsi1sk BETWEEN :lo AND :hi")
		input.ExpressionAttributeValues[":lo"] = &types.AttributeValueMemberS{Value: AccountSortKey(folder, "")}
		input.ExpressionAttributeValues[":hi"] = &types.AttributeValueMemberS{Value: AccountSortKey(folder, FormatTimestamp(cursor))}
	}

	items, err := r.queryUpTo(ctx, input, want)
	if err != nil {
		return nil, fmt.Errorf("query account folder: %w", dynamo.ClassifyQueryError(err))
	}
	mails := OlderThan(decodeAll(items), cursor)
	if len(mails) > limit {
		mails = mails[:limit]
	}
	return mails, nil
}

// ListAccountMails returns every per-account copy of an account, unordered.
func (r *Repository) ListAccountMails(ctx context.Context, accountID string) ([]RawMail, error) {
	items, err := r.queryUpTo(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
			":prefix": &types.AttributeValueMemberS{Value: dynamo.PrefixMail},
		},
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("list account mails: %w", err)
	}
	return decodeAll(items), nil
}

// QueryGlobalFolder runs the indexed, date-ordered query over global mail
// documents. Missing indexes surface as mailerr.ErrIndexUnavailable.
func (r *Repository) QueryGlobalFolder(ctx context.Context, folder string, filter AddressFilter, limit int, cursor time.Time) ([]RawMail, error) {
	indexName := dynamo.IndexGSI3
	keyAttr := dynamo.AttrGSI3PK
	keyValue := FolderIndexKey(folder)
	switch filter.Field {
	case MatchRecipient:
		indexName, keyAttr, keyValue = dynamo.IndexGSI1, dynamo.AttrGSI1PK, RecipientIndexKey(folder, filter.Address)
	case MatchSender:
		indexName, keyAttr, keyValue = dynamo.IndexGSI2, dynamo.AttrGSI2PK, SenderIndexKey(folder, filter.Address)
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexName),
		ScanIndexForward:       aws.Bool(false),
		KeyConditionExpression: aws.String("#key = :key"),
		ExpressionAttributeNames: map[string]string{
			"#key": keyAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: keyValue},
		},
	}
	if !cursor.IsZero() {
		input.KeyConditionExpression = aws.String("#key = :key AND #date < :cursor")
		input.ExpressionAttributeNames["#date"] = dynamo.AttrDate
		input.ExpressionAttributeValues[":cursor"] = &types.AttributeValueMemberS{Value: FormatTimestamp(cursor)}
	}

	items, err := r.queryUpTo(ctx, input, limit)
	if err != nil {
		return nil, fmt.Errorf("query global folder: %w", dynamo.ClassifyQueryError(err))
	}
	mails := decodeAll(items)
	if len(mails) > limit {
		mails = mails[:limit]
	}
	return mails, nil
}

// ScanGlobalFolder reads up to max global documents of a folder in table
// order, without relying on any index.
func (r *Repository) ScanGlobalFolder(ctx context.Context, folder string, max int) ([]RawMail, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("#folder = :folder AND begins_with(pk, :prefix)"),
		ExpressionAttributeNames: map[string]string{
			"#folder": "folder",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":folder": &types.AttributeValueMemberS{Value: folder},
			":prefix": &types.AttributeValueMemberS{Value: dynamo.PrefixMail},
		},
	}

	var items []map[string]types.AttributeValue
	for {
		output, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan global folder: %w", err)
		}
		items = append(items, output.Items...)
		if (max > 0 && len(items) >= max) || len(output.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return decodeAll(items), nil
}

// PatchMail updates a global mail document, keeping its index keys in step
// with the folder.
func (r *Repository) PatchMail(ctx context.Context, current RawMail, patch Patch) error {
	expr := buildUpdate(current, patch, true)
	return r.update(ctx, globalKey(current.ID), expr)
}

// PatchAccountMail updates an account's copy of a mail.
func (r *Repository) PatchAccountMail(ctx context.Context, accountID string, current RawMail, patch Patch) error {
	expr := buildUpdate(current, patch, false)
	key := map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.MailSK(current.ID)},
	}
	return r.update(ctx, key, expr)
}

func (r *Repository) update(ctx context.Context, key map[string]types.AttributeValue, expr updateExpr) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       key,
		UpdateExpression:          aws.String(expr.String()),
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
		ConditionExpression:       aws.String("attribute_exists(pk)"),
	}
	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrMailNotFound
		}
		return fmt.Errorf("patch mail: %w", err)
	}
	return nil
}

// queryUpTo follows pagination until want items are collected; want <= 0
// reads everything.
func (r *Repository) queryUpTo(ctx context.Context, input *dynamodb.QueryInput, want int) ([]map[string]types.AttributeValue, error) {
	if want > 0 {
		input.Limit = aws.Int32(int32(want))
	}
	var items []map[string]types.AttributeValue
	for {
		output, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, output.Items...)
		if (want > 0 && len(items) >= want) || len(output.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

type updateExpr struct {
	sets    []string
	removes []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func (e *updateExpr) set(attr string, value types.AttributeValue) {
	name := "#" + attr
	e.names[name] = attr
	e.values[":"+attr] = value
	e.sets = append(e.sets, name+" = :"+attr)
}

func (e *updateExpr) remove(attr string) {
	name := "#" + attr
	e.names[name] = attr
	e.removes = append(e.removes, name)
}

func (e updateExpr) String() string {
	var b strings.Builder
	if len(e.sets) > 0 {
		b.WriteString("SET ")
		b.WriteString(strings.Join(e.sets, ", "))
	}
	if len(e.removes) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("REMOVE ")
		b.WriteString(strings.Join(e.removes, ", "))
	}
	return b.String()
}

func buildUpdate(current RawMail, p Patch, global bool) updateExpr {
	e := updateExpr{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
	updatedAt := p.UpdatedAt
	if updatedAt == "" {
		updatedAt = FormatTimestamp(time.Now())
	}
	e.set("updatedAt", &types.AttributeValueMemberS{Value: updatedAt})

	if p.Folder != nil {
		folder := *p.Folder
		e.set("folder", &types.AttributeValueMemberS{Value: folder})
		if global {
			rec := Format(current)
			e.set(dynamo.AttrGSI3PK, &types.AttributeValueMemberS{Value: FolderIndexKey(folder)})
			if rec.ToAddress != nil {
				e.set(dynamo.AttrGSI1PK, &types.AttributeValueMemberS{Value: RecipientIndexKey(folder, *rec.ToAddress)})
			} else {
				e.remove(dynamo.AttrGSI1PK)
			}
			if from := strings.TrimSpace(current.From); from != "" {
				e.set(dynamo.AttrGSI2PK, &types.AttributeValueMemberS{Value: SenderIndexKey(folder, address.Normalize(from))})
			} else {
				e.remove(dynamo.AttrGSI2PK)
			}
		} else {
			e.set(dynamo.AttrLSI1SK, &types.AttributeValueMemberS{Value: AccountSortKey(folder, current.Timestamp())})
		}
	}
	if p.Read != nil {
		e.set("read", &types.AttributeValueMemberBOOL{Value: *p.Read})
	}
	if p.Tags != nil {
		e.set("tags", encodeStringList(*p.Tags))
	}
	switch {
	case p.ClearTrashMeta:
		e.remove("trashMeta")
	case p.TrashMeta != nil:
		e.set("trashMeta", encodeTrashMeta(*p.TrashMeta))
	}
	return e
}

func encodeStringList(values []string) types.AttributeValue {
	l := make([]types.AttributeValue, len(values))
	for i, v := range values {
		l[i] = &types.AttributeValueMemberS{Value: v}
	}
	return &types.AttributeValueMemberL{Value: l}
}

func encodeTrashMeta(m TrashMeta) types.AttributeValue {
	fields := map[string]types.AttributeValue{}
	put := func(key, value string) {
		if value != "" {
			fields[key] = &types.AttributeValueMemberS{Value: value}
		}
	}
	put("previousFolder", m.PreviousFolder)
	put("ownerEmail", m.OwnerEmail)
	put("movedAt", m.MovedAt)
	put("movedBy", m.MovedBy)
	put("restoredAt", m.RestoredAt)
	put("restoredTo", m.RestoredTo)
	if len(m.PreviousFolders) > 0 {
		fields["previousFolders"] = encodeStringList(m.PreviousFolders)
	}
	return &types.AttributeValueMemberM{Value: fields}
}

func globalKey(mailID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.MailPK(mailID)},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.MailSK(mailID)},
	}
}

func decodeAll(items []map[string]types.AttributeValue) []RawMail {
	out := make([]RawMail, 0, len(items))
	for _, item := range items {
		out = append(out, DecodeItem(item))
	}
	return out
}
