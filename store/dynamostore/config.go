package dynamostore

// Config holds configuration for the Store.
type Config struct {
	// TablePrefix is prepended to collection names to form table names.
	// Default: "grove_"
	TablePrefix string

	// ParentIndex is the name of the GSI keyed on "_parent". Finds whose
	// filter is a single equality on "_parent" query it instead of scanning.
	// Set to "-" to disable the fast path.
	// Default: "parent_index"
	ParentIndex string

	// UniqueTable holds one record per unique-index value so unique indexes
	// can be enforced transactionally.
	// Default: "grove_unique_constraints"
	UniqueTable string

	// SoftDelete marks deleted items with an expired TTL instead of removing
	// them. DynamoDB's TTL sweeper removes them later and reads ignore them.
	// Default: false
	SoftDelete bool

	// TTLAttribute is the number attribute holding the soft-delete expiry
	// in epoch seconds. It must match the table's TTL setting.
	// Default: "ttl"
	TTLAttribute string

	// ScanSegments is the number of parallel segments used for scans.
	// Default: 1
	// Max: 64
	ScanSegments int

	// CreateTables creates missing collection tables (on-demand billing,
	// "_id" hash key, parent GSI) the first time an index is created.
	// Default: false
	CreateTables bool
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		TablePrefix:  "grove_",
		ParentIndex:  "parent_index",
		UniqueTable:  "grove_unique_constraints",
		TTLAttribute: DefaultTTLAttribute,
		ScanSegments: 1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "grove_"
	}
	if c.ParentIndex == "" {
		c.ParentIndex = "parent_index"
	}
	if c.UniqueTable == "" {
		c.UniqueTable = "grove_unique_constraints"
	}
	if c.TTLAttribute == "" {
		c.TTLAttribute = DefaultTTLAttribute
	}
	if c.ScanSegments < 1 {
		c.ScanSegments = 1
	}
	if c.ScanSegments > 64 {
		c.ScanSegments = 64
	}
}

func (c Config) parentIndexEnabled() bool {
	return c.ParentIndex != "-"
}
