package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/jacentio/grove/internal/shard"
	"github.com/jacentio/grove/store"
	"github.com/jacentio/grove/store/filter"
)

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	ListTables(ctx context.Context, in *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Store keeps one table per collection, keyed by the hex "_id".
// Index definitions are held in process; unique indexes are enforced through
// constraint records in Config.UniqueTable.
type Store struct {
	client API
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	indexes map[string][]store.Index
	tables  map[string]bool
}

var _ store.Store = (*Store)(nil)

// New creates a new Store instance.
func New(client API, config Config, logger *zap.Logger) *Store {
	config.validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:  client,
		config:  config,
		logger:  logger,
		now:     time.Now,
		indexes: make(map[string][]store.Index),
		tables:  make(map[string]bool),
	}
}

// TableName returns the table backing a collection.
func (s *Store) TableName(collection string) string {
	return s.config.TablePrefix + collection
}

func (s *Store) collectionIndexes(collection string) []store.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Index(nil), s.indexes[collection]...)
}

func (s *Store) matcher(collection string) filter.Matcher {
	var m filter.Matcher
	for _, idx := range s.collectionIndexes(collection) {
		for _, k := range idx.Keys {
			if k.Kind == store.Text {
				m.TextFields = append(m.TextFields, k.Field)
			}
		}
	}
	return m
}

// find returns matching items in encoded form.
func (s *Store) find(ctx context.Context, collection string, f bson.D) ([]store.Document, error) {
	enc := encodeFilter(f)
	var (
		items []map[string]types.AttributeValue
		err   error
	)
	if parent, ok := parentRef(enc); ok && s.config.parentIndexEnabled() {
		items, err = s.queryParent(ctx, collection, parent)
	} else {
		items, err = s.scan(ctx, collection, enc)
	}
	if err != nil {
		return nil, err
	}

	m := s.matcher(collection)
	now := s.now()
	var out []store.Document
	for _, item := range items {
		if expired(item, s.config.TTLAttribute, now) {
			continue
		}
		raw, err := unmarshalRaw(item, s.config.TTLAttribute)
		if err != nil {
			return nil, err
		}
		ok, err := m.Match(raw, enc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, raw)
		}
	}
	// Scan order is hash order; identifiers are time ordered, which gives a
	// natural order close to insertion order.
	filter.Sort(out, []store.SortField{{Field: "_id", Direction: store.Asc}})
	return out, nil
}

func (s *Store) queryParent(ctx context.Context, collection, parent string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                aws.String(s.TableName(collection)),
		IndexName:                aws.String(s.config.ParentIndex),
		KeyConditionExpression:   aws.String("#parent = :parent"),
		FilterExpression:         aws.String(liveFilter),
		ExpressionAttributeNames: merge(ttlNames(s.config.TTLAttribute), map[string]string{"#parent": "_parent"}),
		ExpressionAttributeValues: merge(nowValues(s.now()), map[string]types.AttributeValue{
			":parent": &types.AttributeValueMemberS{Value: parent},
		}),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s by parent: %w", collection, err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// scan reads the table, in parallel segments when configured.
func (s *Store) scan(ctx context.Context, collection string, enc bson.D) ([]map[string]types.AttributeValue, error) {
	expr, names, values := translate(enc)
	filterExpr := liveFilter
	if expr != "" {
		filterExpr = fmt.Sprintf("(%s) AND (%s)", expr, filterExpr)
	}
	input := func(segment int) *dynamodb.ScanInput {
		in := &dynamodb.ScanInput{
			TableName:                 aws.String(s.TableName(collection)),
			FilterExpression:          aws.String(filterExpr),
			ExpressionAttributeNames:  merge(ttlNames(s.config.TTLAttribute), names),
			ExpressionAttributeValues: merge(nowValues(s.now()), values),
			ConsistentRead:            aws.Bool(true),
		}
		if s.config.ScanSegments > 1 {
			in.Segment = aws.Int32(int32(segment))
			in.TotalSegments = aws.Int32(int32(s.config.ScanSegments))
		}
		return in
	}

	// Fast path for a single segment (default)
	if s.config.ScanSegments == 1 {
		return s.scanSegment(ctx, input(0))
	}

	var (
		mu    sync.Mutex
		all   []map[string]types.AttributeValue
		wg    sync.WaitGroup
		errCh = make(chan error, s.config.ScanSegments)
	)
	for segment := 0; segment < s.config.ScanSegments; segment++ {
		wg.Add(1)
		go func(segment int) {
			defer wg.Done()
			items, err := s.scanSegment(ctx, input(segment))
			if err != nil {
				errCh <- fmt.Errorf("segment %d: %w", segment, err)
				return
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
		}(segment)
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (s *Store) scanSegment(ctx context.Context, in *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func paginate(docs []store.Document, skip, limit int64) []store.Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

func (s *Store) FindIDs(ctx context.Context, collection string, opts store.FindOptions) ([]primitive.ObjectID, error) {
	docs, err := s.find(ctx, collection, opts.Filter)
	if err != nil {
		return nil, err
	}
	filter.Sort(docs, opts.Sort)
	docs = paginate(docs, opts.Skip, opts.Limit)
	ids := make([]primitive.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids, nil
}

// FindOne retrieves a document by identifier, returning ErrNotFound if deleted or missing.
func (s *Store) FindOne(ctx context.Context, collection string, id primitive.ObjectID) (store.Document, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TableName(collection)),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id.Hex(), err)
	}
	if result.Item == nil || expired(result.Item, s.config.TTLAttribute, s.now()) {
		return nil, store.ErrNotFound
	}
	raw, err := unmarshalRaw(result.Item, s.config.TTLAttribute)
	if err != nil {
		return nil, err
	}
	return toDocument(raw), nil
}

func (s *Store) Count(ctx context.Context, collection string, opts store.FindOptions) (int64, error) {
	docs, err := s.find(ctx, collection, opts.Filter)
	if err != nil {
		return 0, err
	}
	return int64(len(paginate(docs, opts.Skip, opts.Limit))), nil
}

func (s *Store) Distinct(ctx context.Context, collection, field string, f bson.D) ([]any, error) {
	docs, err := s.find(ctx, collection, f)
	if err != nil {
		return nil, err
	}
	var out []any
	add := func(v any) {
		for _, seen := range out {
			if filter.Equal(seen, v) {
				return
			}
		}
		out = append(out, v)
	}
	for _, d := range docs {
		values, _ := filter.Lookup(d, field)
		for _, v := range values {
			if list, ok := v.([]any); ok {
				for _, e := range list {
					add(e)
				}
				continue
			}
			add(v)
		}
	}
	return out, nil
}

// constraint is a claimed unique-index value.
type constraint struct {
	pk    string
	index string
}

func (s *Store) constraints(collection string, doc map[string]any) []constraint {
	var out []constraint
	for _, idx := range s.collectionIndexes(collection) {
		if !idx.Unique {
			continue
		}
		parts := []string{collection, idx.IndexName()}
		for _, k := range idx.Keys {
			vs, _ := filter.Lookup(doc, k.Field)
			if len(vs) == 0 {
				parts = append(parts, "null")
				continue
			}
			parts = append(parts, fmt.Sprintf("%v", encode(vs[0])))
		}
		out = append(out, constraint{pk: shard.Key(parts...), index: idx.IndexName()})
	}
	return out
}

func (s *Store) constraintPut(c constraint, collection string, id primitive.ObjectID) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.config.UniqueTable),
			Item: map[string]types.AttributeValue{
				"pk":         &types.AttributeValueMemberS{Value: c.pk},
				"sk":         &types.AttributeValueMemberS{Value: "CONSTRAINT"},
				"collection": &types.AttributeValueMemberS{Value: collection},
				"index":      &types.AttributeValueMemberS{Value: c.index},
				"doc_id":     &types.AttributeValueMemberS{Value: id.Hex()},
			},
			// Fails if another document already holds this value
			ConditionExpression: aws.String(condConstraintFree),
		},
	}
}

func (s *Store) constraintDelete(c constraint) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(s.config.UniqueTable),
			Key: map[string]types.AttributeValue{
				"pk": &types.AttributeValueMemberS{Value: c.pk},
				"sk": &types.AttributeValueMemberS{Value: "CONSTRAINT"},
			},
		},
	}
}

func (s *Store) liveNames() map[string]string {
	return map[string]string{"#id": "_id", "#ttl": s.config.TTLAttribute}
}

// Insert creates a new document. Soft-deleted items with the same key are overwritten.
func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	item, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	put := &types.Put{
		TableName:                 aws.String(s.TableName(collection)),
		Item:                      item,
		ConditionExpression:       aws.String(condAbsent),
		ExpressionAttributeNames:  s.liveNames(),
		ExpressionAttributeValues: nowValues(s.now()),
	}

	constraints := s.constraints(collection, encode(doc).(map[string]any))
	if len(constraints) == 0 {
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeNames:  put.ExpressionAttributeNames,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: _id %s", store.ErrDuplicateKey, doc.ID().Hex())
		}
		return err
	}

	items := make([]types.TransactWriteItem, 0, len(constraints)+1)
	for _, c := range constraints {
		items = append(items, s.constraintPut(c, collection, doc.ID()))
	}
	itemIndex := len(items)
	items = append(items, types.TransactWriteItem{Put: put})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return s.mapTransactionError(err, itemIndex, store.ErrDuplicateKey)
}

// Replace overwrites a live document. Unique constraint records are moved
// in the same transaction when indexed values change.
func (s *Store) Replace(ctx context.Context, collection string, doc store.Document) error {
	item, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	put := &types.Put{
		TableName:                 aws.String(s.TableName(collection)),
		Item:                      item,
		ConditionExpression:       aws.String(condLive),
		ExpressionAttributeNames:  s.liveNames(),
		ExpressionAttributeValues: nowValues(s.now()),
	}

	if !s.hasUnique(collection) {
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeNames:  put.ExpressionAttributeNames,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return store.ErrNotFound
		}
		return err
	}

	current, err := s.FindOne(ctx, collection, doc.ID())
	if err != nil {
		return err
	}
	oldSet := map[string]constraint{}
	for _, c := range s.constraints(collection, encode(current).(map[string]any)) {
		oldSet[c.pk] = c
	}
	var items []types.TransactWriteItem
	for _, c := range s.constraints(collection, encode(doc).(map[string]any)) {
		if _, unchanged := oldSet[c.pk]; unchanged {
			delete(oldSet, c.pk)
			continue
		}
		items = append(items, s.constraintPut(c, collection, doc.ID()))
	}
	for _, c := range oldSet {
		items = append(items, s.constraintDelete(c))
	}
	itemIndex := len(items)
	items = append(items, types.TransactWriteItem{Put: put})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return s.mapTransactionError(err, itemIndex, store.ErrNotFound)
}

func (s *Store) hasUnique(collection string) bool {
	for _, idx := range s.collectionIndexes(collection) {
		if idx.Unique {
			return true
		}
	}
	return false
}

// Delete removes a document, or marks it with an expired TTL when SoftDelete is set.
func (s *Store) Delete(ctx context.Context, collection string, id primitive.ObjectID) error {
	var constraints []constraint
	if s.hasUnique(collection) {
		current, err := s.FindOne(ctx, collection, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		constraints = s.constraints(collection, encode(current).(map[string]any))
	}

	if len(constraints) == 0 {
		if s.config.SoftDelete {
			return s.setTTL(ctx, collection, id)
		}
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.TableName(collection)),
			Key:       idKey(id),
		})
		return err
	}

	items := make([]types.TransactWriteItem, 0, len(constraints)+1)
	for _, c := range constraints {
		items = append(items, s.constraintDelete(c))
	}
	if s.config.SoftDelete {
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                 aws.String(s.TableName(collection)),
			Key:                       idKey(id),
			UpdateExpression:          aws.String("SET #ttl = :now"),
			ExpressionAttributeNames:  ttlNames(s.config.TTLAttribute),
			ExpressionAttributeValues: nowValues(s.now()),
		}})
	} else {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.TableName(collection)),
			Key:       idKey(id),
		}})
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}

// setTTL marks an item for deletion by setting its TTL to now.
func (s *Store) setTTL(ctx context.Context, collection string, id primitive.ObjectID) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.TableName(collection)),
		Key:                       idKey(id),
		UpdateExpression:          aws.String("SET #ttl = :now"),
		ConditionExpression:       aws.String("attribute_exists(#id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames:  s.liveNames(),
		ExpressionAttributeValues: nowValues(s.now()),
	})

	// Ignore condition failure - missing or already deleted
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// mapTransactionError maps a cancelled transaction to a store error.
// A failed condition on the document itself maps to itemErr, any other
// failed condition is a unique constraint violation.
func (s *Store) mapTransactionError(err error, itemIndex int, itemErr error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i == itemIndex {
					return itemErr
				}
				return store.ErrDuplicateKey
			}
		}
	}

	return err
}

// CreateIndex records the index for this process. Unique indexes are
// enforced on later writes; existing items are not backfilled.
func (s *Store) CreateIndex(ctx context.Context, collection string, idx store.Index) (string, error) {
	if len(idx.Keys) == 0 {
		return "", fmt.Errorf("%w: no keys", store.ErrInvalidIndex)
	}
	if s.config.CreateTables {
		if err := s.ensureTable(ctx, collection); err != nil {
			return "", err
		}
	}
	name := idx.IndexName()
	idx.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.indexes[collection]
	for i, existing := range list {
		if existing.Name == name {
			list[i] = idx
			return name, nil
		}
	}
	s.indexes[collection] = append(list, idx)
	return name, nil
}

func (s *Store) Indexes(_ context.Context, collection string) ([]store.Index, error) {
	out := []store.Index{{Name: store.IDIndexName, Keys: []store.IndexKey{{Field: "_id", Kind: store.Ascending}}}}
	return append(out, s.collectionIndexes(collection)...), nil
}

func (s *Store) DropIndex(_ context.Context, collection, name string) error {
	if name == store.IDIndexName {
		return fmt.Errorf("%w: cannot drop %s", store.ErrInvalidIndex, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.indexes[collection]
	for i, existing := range list {
		if existing.Name == name {
			s.indexes[collection] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return store.ErrIndexNotFound
}

// Collections lists tables carrying the configured prefix, minus the prefix.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	var names []string
	paginator := dynamodb.NewListTablesPaginator(s.client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		for _, t := range page.TableNames {
			if t == s.config.UniqueTable || !strings.HasPrefix(t, s.config.TablePrefix) {
				continue
			}
			names = append(names, strings.TrimPrefix(t, s.config.TablePrefix))
		}
	}
	return names, nil
}

// ensureTable creates the collection table with its parent index when missing.
func (s *Store) ensureTable(ctx context.Context, collection string) error {
	s.mu.Lock()
	known := s.tables[collection]
	s.mu.Unlock()
	if known {
		return nil
	}

	table := s.TableName(collection)
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	var notFound *types.ResourceNotFoundException
	switch {
	case errors.As(err, &notFound):
		input := &dynamodb.CreateTableInput{
			TableName:   aws.String(table),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("_id"), KeyType: types.KeyTypeHash},
			},
		}
		if s.config.parentIndexEnabled() {
			input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
				AttributeName: aws.String("_parent"), AttributeType: types.ScalarAttributeTypeS,
			})
			input.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{{
				IndexName: aws.String(s.config.ParentIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("_parent"), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			}}
		}
		if _, err := s.client.CreateTable(ctx, input); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		s.logger.Info("table created", zap.String("table", table))
	case err != nil:
		return fmt.Errorf("describe table %s: %w", table, err)
	}

	s.mu.Lock()
	s.tables[collection] = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Close(context.Context) error { return nil }
