// Package stream keeps in-process caches coherent with writes made by other
// processes sharing the same DynamoDB tables.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Target owns the caches invalidated by stream records.
type Target interface {
	ModelOf(collection string) (string, error)
	InvalidateEntity(model string, id primitive.ObjectID)
	ClearFinderCache(ctx context.Context, model string) error
}

// Config holds configuration for the Handler.
type Config struct {
	// TablePrefix is stripped from table names to recover the collection
	// when a record carries no model attribute.
	// Default: "grove_"
	TablePrefix string

	// TTLAttribute is the soft-delete expiry attribute, matching
	// dynamostore.Config.TTLAttribute.
	// Default: "ttl"
	TTLAttribute string
}

// DefaultConfig returns the configuration matching dynamostore defaults.
func DefaultConfig() Config {
	return Config{TablePrefix: "grove_", TTLAttribute: "ttl"}
}

func (c *Config) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "grove_"
	}
	if c.TTLAttribute == "" {
		c.TTLAttribute = "ttl"
	}
}

// Handler processes DynamoDB stream events.
type Handler struct {
	target Target
	config Config
	logger *zap.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(target Target, config Config, logger *zap.Logger) *Handler {
	config.validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		target: target,
		config: config,
		logger: logger,
	}
}

// change is the cache effect of one stream record.
type change struct {
	model string
	id    primitive.ObjectID
	kind  string
}

// Handle drops cached documents touched by the records and clears the
// finder cache of every affected model once. It is usable as an AWS Lambda
// handler; a returned error makes Lambda retry the batch.
func (h *Handler) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	var (
		models []string
		seen   = map[string]bool{}
	)
	for _, record := range event.Records {
		c, ok := h.processRecord(record)
		if !ok {
			continue
		}
		if c.kind != "INSERT" {
			h.target.InvalidateEntity(c.model, c.id)
		}
		if !seen[c.model] {
			seen[c.model] = true
			models = append(models, c.model)
		}
	}
	for _, model := range models {
		if err := h.target.ClearFinderCache(ctx, model); err != nil {
			h.logger.Error("failed to clear finder cache", zap.String("model", model), zap.Error(err))
			return fmt.Errorf("clear finder cache of %s: %w", model, err)
		}
	}
	if len(models) > 0 {
		h.logger.Debug("stream batch applied",
			zap.Int("records", len(event.Records)),
			zap.Strings("models", models),
		)
	}
	return nil
}

// processRecord maps a record to the entity it touched. Records from tables
// that hold no registered collection are skipped.
func (h *Handler) processRecord(record events.DynamoDBEventRecord) (change, bool) {
	image := record.Change.NewImage
	if record.EventName == "REMOVE" || len(image) == 0 {
		image = record.Change.OldImage
	}

	id, err := primitive.ObjectIDFromHex(getStringAttr(record.Change.Keys, "_id"))
	if err != nil {
		id, err = primitive.ObjectIDFromHex(getStringAttr(image, "_id"))
	}
	if err != nil {
		h.logger.Debug("skipping record without entity id", zap.String("eventID", record.EventID))
		return change{}, false
	}

	model := getStringAttr(image, "_model")
	if model == "" {
		table := tableName(record.EventSourceArn)
		if !strings.HasPrefix(table, h.config.TablePrefix) {
			h.logger.Debug("skipping record from foreign table", zap.String("table", table))
			return change{}, false
		}
		model, err = h.target.ModelOf(strings.TrimPrefix(table, h.config.TablePrefix))
		if err != nil {
			h.logger.Debug("skipping record of unknown collection", zap.String("table", table), zap.Error(err))
			return change{}, false
		}
	}

	ttl := h.config.TTLAttribute
	if record.EventName == "MODIFY" && getNumberAttr(record.Change.OldImage, ttl) == 0 && getNumberAttr(record.Change.NewImage, ttl) != 0 {
		h.logger.Debug("entity soft-deleted", zap.String("model", model), zap.String("id", id.Hex()))
	}
	return change{model: model, id: id, kind: record.EventName}, true
}

// tableName extracts the table from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/<name>/stream/<label>.
func tableName(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts an integer attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, _ := strconv.ParseInt(v.Number(), 10, 64)
		return n
	}
	return 0
}
