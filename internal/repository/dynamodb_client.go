package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	requestLogPK  = "REQUESTLOG"
	skPrefixEntry = "ENTRY#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL

	// Fixed width so that byte order of sort keys equals time order.
	skTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoLog.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoLog keeps the request log in a DynamoDB table, one item per entry
// under a single partition.
type DynamoLog struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoLog creates a DynamoLog for tableName.
func NewDynamoLog(api dynamodbAPI, tableName string) (*DynamoLog, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoLog{api: api, tableName: tableName, now: time.Now}, nil
}

// entrySK orders entries by arrival time; the uuid suffix keeps keys unique
// when two requests share a timestamp.
func entrySK(ts time.Time, id string) string {
	return skPrefixEntry + ts.UTC().Format(skTimeLayout) + "#" + id
}

// Append stores entry as a new item.
func (l *DynamoLog) Append(ctx context.Context, entry json.RawMessage) error {
	line, err := compactLine(entry)
	if err != nil {
		return fmt.Errorf("repository: DynamoLog append: %w", err)
	}
	now := l.now()
	_, err = l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"PK":   &types.AttributeValueMemberS{Value: requestLogPK},
			"SK":   &types.AttributeValueMemberS{Value: entrySK(now, uuid.NewString())},
			"body": &types.AttributeValueMemberS{Value: strings.TrimSuffix(string(line), "\n")},
			"ttl":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(ttlDuration).Unix())},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: DynamoLog append: %w", err)
	}
	return nil
}

// Entries pages through the partition in ascending sort-key order.
func (l *DynamoLog) Entries(ctx context.Context) ([]json.RawMessage, error) {
	entries := []json.RawMessage{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := l.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(l.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: requestLogPK},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: DynamoLog query: %w", err)
		}
		for _, item := range out.Items {
			body, err := strAttr(item, "body")
			if err != nil {
				return nil, fmt.Errorf("repository: DynamoLog unmarshal: %w", err)
			}
			if !json.Valid([]byte(body)) {
				return nil, errors.New("repository: DynamoLog item body is not valid JSON")
			}
			entries = append(entries, json.RawMessage(body))
		}
		if len(out.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
