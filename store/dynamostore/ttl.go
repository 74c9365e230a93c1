package dynamostore

import (
	"maps"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultTTLAttribute holds the soft-delete expiry in epoch seconds.
const DefaultTTLAttribute = "ttl"

// expired reports whether item carries a ttl at or before now. Such items
// are soft-deleted and invisible to reads even before DynamoDB removes them.
func expired(item map[string]types.AttributeValue, attr string, now time.Time) bool {
	n, ok := item[attr].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && ttl <= now.Unix()
}

// Expressions over "#ttl" and ":now". Names come from ttlNames and values
// from nowValues.
const (
	liveFilter = "attribute_not_exists(#ttl) OR #ttl > :now"

	// condAbsent holds when no live item has the key.
	condAbsent = "attribute_not_exists(#id) OR (attribute_exists(#ttl) AND #ttl <= :now)"
	// condLive holds when a live item has the key.
	condLive = "attribute_exists(#id) AND (attribute_not_exists(#ttl) OR #ttl > :now)"
	// condConstraintFree holds when a unique value is unclaimed.
	condConstraintFree = "attribute_not_exists(pk)"
)

func ttlNames(attr string) map[string]string {
	return map[string]string{"#ttl": attr}
}

func nowValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	}
}

// merge combines expression maps, later keys winning.
func merge[V any](ms ...map[string]V) map[string]V {
	out := make(map[string]V)
	for _, m := range ms {
		maps.Copy(out, m)
	}
	return out
}
