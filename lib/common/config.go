package common

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultDBPath        = "./skv.db"
	DefaultFlushInterval = time.Second
	DefaultBatchSize     = 100
	DefaultScriptGlobal  = "LuaDB"
)

// StoreConfig holds all configuration parameters of a store instance.
type StoreConfig struct {
	// DBPath is the SQLite database file (":memory:" for a private in-memory database)
	DBPath string
	// Engine selects the backing store implementation (sqlite, memory)
	Engine string

	// BatchSize bounds rows per write chunk
	BatchSize int
	// FlushInterval is the minimum time between two deferred flushes of the global partition
	FlushInterval time.Duration
	// Vacuum compacts the database file when the store is opened
	Vacuum bool

	// ScriptGlobal is the name of the object bound into script runtimes
	ScriptGlobal string

	// Logging configuration
	LogLevel string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DBPath:        DefaultDBPath,
		Engine:        "sqlite",
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		Vacuum:        true,
		ScriptGlobal:  DefaultScriptGlobal,
		LogLevel:      "info",
	}
}

// Validate checks the configuration for invalid values.
func (c *StoreConfig) Validate() error {
	switch c.Engine {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("a database path is required for the sqlite engine")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid engine %q (expected sqlite or memory)", c.Engine)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("flush interval must not be negative, got %s", c.FlushInterval)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *StoreConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Engine", c.Engine)
	if c.Engine == "sqlite" {
		addField("Database", c.DBPath)
		addField("Vacuum on open", fmt.Sprintf("%t", c.Vacuum))
	}
	addField("Batch Size", fmt.Sprintf("%d rows", c.BatchSize))
	addField("Flush Interval", c.FlushInterval.String())

	addSection("Scripting")
	addField("Global Object", c.ScriptGlobal)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
