package dynamostore

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/jacentio/grove/store"
)

type table map[string]map[string]types.AttributeValue

// fakeDynamo evaluates the condition expressions Store issues and ignores
// filter expressions, which only ever narrow results.
type fakeDynamo struct {
	mu      sync.Mutex
	tables  map[string]table
	created []*dynamodb.CreateTableInput
	queries int
	scans   int
}

func newFake() *fakeDynamo {
	return &fakeDynamo{tables: map[string]table{}}
}

func itemKey(item map[string]types.AttributeValue) string {
	if v, ok := item["_id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	if v, ok := item["pk"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) table(name string) table {
	t, ok := f.tables[name]
	if !ok {
		t = table{}
		f.tables[name] = t
	}
	return t
}

func (f *fakeDynamo) holds(tableName, key string, cond *string) bool {
	if cond == nil {
		return true
	}
	item, exists := f.table(tableName)[key]
	live := exists && !expired(item, DefaultTTLAttribute, time.Now())
	switch *cond {
	case condAbsent:
		return !live
	case condLive:
		return live
	case condConstraintFree:
		return !exists
	default:
		_, hasTTL := item[DefaultTTLAttribute]
		return exists && !hasTTL
	}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.table(*in.TableName)[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := itemKey(in.Item)
	if !f.holds(*in.TableName, key, in.ConditionExpression) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	f.table(*in.TableName)[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := itemKey(in.Key)
	if !f.holds(*in.TableName, key, in.ConditionExpression) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	f.table(*in.TableName)[key][DefaultTTLAttribute] = in.ExpressionAttributeValues[":now"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.table(*in.TableName), itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	want := in.ExpressionAttributeValues[":parent"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range f.table(*in.TableName) {
		if p, ok := item["_parent"].(*types.AttributeValueMemberS); ok && p.Value == want {
			items = append(items, item)
		}
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	if in.Segment != nil && *in.Segment != 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	var items []map[string]types.AttributeValue
	for _, item := range f.table(*in.TableName) {
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, it := range in.TransactItems {
		ok := true
		switch {
		case it.Put != nil:
			ok = f.holds(*it.Put.TableName, itemKey(it.Put.Item), it.Put.ConditionExpression)
		case it.Update != nil:
			ok = f.holds(*it.Update.TableName, itemKey(it.Update.Key), it.Update.ConditionExpression)
		}
		reasons[i].Code = aws.String("None")
		if !ok {
			failed = true
			reasons[i].Code = aws.String("ConditionalCheckFailed")
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			f.table(*it.Put.TableName)[itemKey(it.Put.Item)] = it.Put.Item
		case it.Delete != nil:
			delete(f.table(*it.Delete.TableName), itemKey(it.Delete.Key))
		case it.Update != nil:
			if item, ok := f.table(*it.Update.TableName)[itemKey(it.Update.Key)]; ok {
				item[DefaultTTLAttribute] = it.Update.ExpressionAttributeValues[":now"]
			}
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[*in.TableName]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	f.table(*in.TableName)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) ListTables(_ context.Context, _ *dynamodb.ListTablesInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return &dynamodb.ListTablesOutput{TableNames: names}, nil
}

func newTestStore(t *testing.T, mutate func(*Config)) (*Store, *fakeDynamo) {
	t.Helper()
	fake := newFake()
	config := DefaultConfig()
	if mutate != nil {
		mutate(&config)
	}
	return New(fake, config, zap.NewNop()), fake
}

func eqFilter(field string, v any) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: "$eq", Value: v}}}}
}

func TestStore_InsertFindOne(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	id := primitive.NewObjectID()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, "posts", store.Document{
		"_id": id, "title": "hello", "rank": int64(3), "tags": []any{"a", "b"}, "published_at": at,
	}))

	doc, err := s.FindOne(ctx, "posts", id)
	require.NoError(t, err)
	assert.Equal(t, id, doc["_id"])
	assert.Equal(t, "hello", doc["title"])
	assert.Equal(t, float64(3), doc["rank"])
	assert.Equal(t, []any{"a", "b"}, doc["tags"])
	assert.Equal(t, "2024-01-02T03:04:05.000Z", doc["published_at"])

	_, err = s.FindOne(ctx, "posts", primitive.NewObjectID())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_InsertDuplicate(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	doc := store.Document{"_id": primitive.NewObjectID()}

	require.NoError(t, s.Insert(ctx, "posts", doc))
	assert.ErrorIs(t, s.Insert(ctx, "posts", doc), store.ErrDuplicateKey)
}

func TestStore_Replace(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	id := primitive.NewObjectID()

	assert.ErrorIs(t, s.Replace(ctx, "posts", store.Document{"_id": id}), store.ErrNotFound)

	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": id, "title": "a"}))
	require.NoError(t, s.Replace(ctx, "posts", store.Document{"_id": id, "title": "b"}))

	doc, err := s.FindOne(ctx, "posts", id)
	require.NoError(t, err)
	assert.Equal(t, "b", doc["title"])
}

func TestStore_FindIDs(t *testing.T) {
	s, fake := newTestStore(t, nil)
	ctx := context.Background()

	var ids []primitive.ObjectID
	for i, status := range []string{"published", "draft", "published", "published"} {
		id := primitive.NewObjectID()
		ids = append(ids, id)
		require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": id, "status": status, "rank": i}))
	}

	got, err := s.FindIDs(ctx, "posts", store.FindOptions{Filter: eqFilter("status", "published")})
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{ids[0], ids[2], ids[3]}, got)

	got, err = s.FindIDs(ctx, "posts", store.FindOptions{
		Filter: eqFilter("status", "published"),
		Sort:   []store.SortField{{Field: "rank", Direction: store.Desc}},
		Skip:   1,
		Limit:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{ids[2]}, got)

	n, err := s.Count(ctx, "posts", store.FindOptions{Filter: eqFilter("status", "draft")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, fake.queries)
}

func TestStore_FindByParentUsesIndex(t *testing.T) {
	s, fake := newTestStore(t, nil)
	ctx := context.Background()
	child := primitive.NewObjectID()

	require.NoError(t, s.Insert(ctx, "comments", store.Document{"_id": child, "_parent": "post:1"}))
	require.NoError(t, s.Insert(ctx, "comments", store.Document{"_id": primitive.NewObjectID(), "_parent": "post:2"}))

	got, err := s.FindIDs(ctx, "comments", store.FindOptions{Filter: eqFilter("_parent", "post:1")})
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{child}, got)
	assert.Equal(t, 1, fake.queries)
	assert.Equal(t, 0, fake.scans)
}

func TestStore_FindByParentWithoutIndex(t *testing.T) {
	s, fake := newTestStore(t, func(c *Config) { c.ParentIndex = "-" })
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "comments", store.Document{"_id": primitive.NewObjectID(), "_parent": "post:1"}))

	got, err := s.FindIDs(ctx, "comments", store.FindOptions{Filter: eqFilter("_parent", "post:1")})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 0, fake.queries)
}

func TestStore_ParallelScan(t *testing.T) {
	s, fake := newTestStore(t, func(c *Config) { c.ScanSegments = 4 })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": primitive.NewObjectID()}))
	}
	n, err := s.Count(ctx, "posts", store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 4, fake.scans)
}

func TestStore_UniqueIndex(t *testing.T) {
	s, fake := newTestStore(t, nil)
	ctx := context.Background()

	name, err := s.CreateIndex(ctx, "posts", store.Index{Keys: []store.IndexKey{{Field: "slug", Kind: store.Ascending}}, Unique: true})
	require.NoError(t, err)
	assert.Equal(t, "slug_1", name)

	a := primitive.NewObjectID()
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": a, "slug": "hello"}))
	assert.Len(t, fake.tables["grove_unique_constraints"], 1)

	b := primitive.NewObjectID()
	assert.ErrorIs(t, s.Insert(ctx, "posts", store.Document{"_id": b, "slug": "hello"}), store.ErrDuplicateKey)
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": b, "slug": "other"}))

	// Moving a's slug frees "hello".
	assert.ErrorIs(t, s.Replace(ctx, "posts", store.Document{"_id": a, "slug": "other"}), store.ErrDuplicateKey)
	require.NoError(t, s.Replace(ctx, "posts", store.Document{"_id": a, "slug": "renamed"}))
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": primitive.NewObjectID(), "slug": "hello"}))

	require.NoError(t, s.Delete(ctx, "posts", b))
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": primitive.NewObjectID(), "slug": "other"}))
	assert.Len(t, fake.tables["grove_unique_constraints"], 3)
}

func TestStore_SoftDelete(t *testing.T) {
	s, fake := newTestStore(t, func(c *Config) { c.SoftDelete = true })
	ctx := context.Background()
	id := primitive.NewObjectID()

	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": id, "title": "a"}))
	require.NoError(t, s.Delete(ctx, "posts", id))

	assert.Contains(t, fake.tables["grove_posts"], id.Hex(), "item should remain until the TTL sweeper runs")
	_, err := s.FindOne(ctx, "posts", id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.Count(ctx, "posts", store.FindOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Deleting twice is not an error and a deleted key can be reused.
	require.NoError(t, s.Delete(ctx, "posts", id))
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": id, "title": "b"}))
}

func TestStore_HardDelete(t *testing.T) {
	s, fake := newTestStore(t, nil)
	ctx := context.Background()
	id := primitive.NewObjectID()

	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": id}))
	require.NoError(t, s.Delete(ctx, "posts", id))
	assert.NotContains(t, fake.tables["grove_posts"], id.Hex())
}

func TestStore_Distinct(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": primitive.NewObjectID(), "tags": []any{"go", "db"}}))
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": primitive.NewObjectID(), "tags": []any{"go"}}))
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": primitive.NewObjectID()}))

	got, err := s.Distinct(ctx, "posts", "tags", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"go", "db"}, got)
}

func TestStore_Indexes(t *testing.T) {
	s, fake := newTestStore(t, func(c *Config) { c.CreateTables = true })
	ctx := context.Background()

	_, err := s.CreateIndex(ctx, "posts", store.Index{Keys: []store.IndexKey{{Field: "title", Kind: store.Text}}})
	require.NoError(t, err)
	_, err = s.CreateIndex(ctx, "posts", store.Index{Keys: []store.IndexKey{{Field: "rank", Kind: store.Descending}}})
	require.NoError(t, err)

	require.Len(t, fake.created, 1, "table is created once")
	assert.Equal(t, "grove_posts", *fake.created[0].TableName)
	require.Len(t, fake.created[0].GlobalSecondaryIndexes, 1)
	assert.Equal(t, "parent_index", *fake.created[0].GlobalSecondaryIndexes[0].IndexName)

	idx, err := s.Indexes(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, idx, 3)
	assert.Equal(t, store.IDIndexName, idx[0].Name)

	assert.ErrorIs(t, s.DropIndex(ctx, "posts", store.IDIndexName), store.ErrInvalidIndex)
	assert.ErrorIs(t, s.DropIndex(ctx, "posts", "missing"), store.ErrIndexNotFound)
	require.NoError(t, s.DropIndex(ctx, "posts", "rank_-1"))

	idx, err = s.Indexes(ctx, "posts")
	require.NoError(t, err)
	assert.Len(t, idx, 2)

	_, err = s.CreateIndex(ctx, "posts", store.Index{})
	assert.ErrorIs(t, err, store.ErrInvalidIndex)
}

func TestStore_TextSearch(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.CreateIndex(ctx, "posts", store.Index{Keys: []store.IndexKey{{Field: "body", Kind: store.Text}}})
	require.NoError(t, err)

	hit := primitive.NewObjectID()
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": hit, "body": "Gophers love channels"}))
	require.NoError(t, s.Insert(ctx, "posts", store.Document{"_id": primitive.NewObjectID(), "body": "nothing here"}))

	got, err := s.FindIDs(ctx, "posts", store.FindOptions{
		Filter: bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: "channels"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{hit}, got)
}

func TestStore_Collections(t *testing.T) {
	s, fake := newTestStore(t, nil)
	ctx := context.Background()

	fake.table("grove_posts")
	fake.table("grove_users")
	fake.table("grove_unique_constraints")
	fake.table("other_table")

	got, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, got)
}
