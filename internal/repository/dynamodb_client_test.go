package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	putErr       error
	queryPages   []*dynamodb.QueryOutput
	queryErr     error
	lastPutInput *dynamodb.PutItemInput
	queryInputs  []*dynamodb.QueryInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return page, nil
}

func makeEntryItem(sk, body string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: requestLogPK},
		"SK":   &types.AttributeValueMemberS{Value: sk},
		"body": &types.AttributeValueMemberS{Value: body},
	}
}

func mustNewDynamoLog(t *testing.T, db *fakeDynamo) *DynamoLog {
	t.Helper()
	l, err := NewDynamoLog(db, "test-table")
	require.NoError(t, err)
	return l
}

func TestNewDynamoLog_NilAPI(t *testing.T) {
	_, err := NewDynamoLog(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNewDynamoLog_EmptyTableName(t *testing.T) {
	_, err := NewDynamoLog(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestDynamoLog_Append_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	l := mustNewDynamoLog(t, db)
	l.now = func() time.Time { return time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC) }

	err := l.Append(context.Background(), json.RawMessage(`{ "type": "message" }`))
	require.NoError(t, err)
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "test-table", *db.lastPutInput.TableName)
	require.Equal(t, `{"type":"message"}`, db.lastPutInput.Item["body"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value, "ENTRY#2026-02-25T10:00:00.000000000Z#")
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestDynamoLog_Append_Errors(t *testing.T) {
	l := mustNewDynamoLog(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	err := l.Append(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "DynamoLog append")

	l = mustNewDynamoLog(t, &fakeDynamo{})
	require.Error(t, l.Append(context.Background(), json.RawMessage(`nope`)))
}

func TestDynamoLog_Entries_Paginates(t *testing.T) {
	next := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: requestLogPK}}
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{makeEntryItem("ENTRY#1", `{"n":1}`)}, LastEvaluatedKey: next},
		{Items: []map[string]types.AttributeValue{makeEntryItem("ENTRY#2", `{"n":2}`)}},
	}}
	l := mustNewDynamoLog(t, db)

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.JSONEq(t, `{"n":1}`, string(entries[0]))
	require.JSONEq(t, `{"n":2}`, string(entries[1]))
	require.Len(t, db.queryInputs, 2)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, next, db.queryInputs[1].ExclusiveStartKey)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
}

func TestDynamoLog_Entries_Empty(t *testing.T) {
	l := mustNewDynamoLog(t, &fakeDynamo{})
	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}

func TestDynamoLog_Entries_Errors(t *testing.T) {
	l := mustNewDynamoLog(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := l.Entries(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "DynamoLog query")

	missingBody := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: requestLogPK}}
	l = mustNewDynamoLog(t, &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{missingBody}}}})
	_, err = l.Entries(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "body")

	l = mustNewDynamoLog(t, &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeEntryItem("ENTRY#1", "{broken")}}}})
	_, err = l.Entries(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid JSON")
}

func TestEntrySK(t *testing.T) {
	ts := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "ENTRY#2026-02-25T10:00:00.000000000Z#abc", entrySK(ts, "abc"))
	require.Equal(t, "ENTRY#2026-02-25T10:00:00.000000000Z#abc", entrySK(ts.In(time.FixedZone("CET", 3600)), "abc"))
}

func TestEntrySK_SortsInArrivalOrder(t *testing.T) {
	base := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	arrivals := []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(150 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Second + time.Nanosecond),
		base.Add(10 * time.Second),
	}
	ids := []string{"a", "b", "c", "d", "e", "f"}

	want := make([]string, len(arrivals))
	for i, ts := range arrivals {
		want[i] = entrySK(ts, ids[i])
	}
	got := append([]string(nil), want...)
	sort.Sort(sort.Reverse(sort.StringSlice(got)))
	sort.Strings(got)
	require.Equal(t, want, got)
	for _, k := range want {
		require.Len(t, k, len(want[0]))
	}
}
