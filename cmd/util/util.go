package util

import (
	"context"
	"fmt"
	"strings"

	"github.com/ValentinKolb/sKV/lib/common"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/memory"
	"github.com/ValentinKolb/sKV/lib/db/engines/sqlite"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("cmd")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the store configuration flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	def := common.DefaultStoreConfig()

	key := "db"
	cmd.PersistentFlags().String(key, def.DBPath, WrapString("Path of the SQLite database file (':memory:' for a private in-memory database)"))

	key = "engine"
	cmd.PersistentFlags().String(key, def.Engine, WrapString("Backing store implementation (sqlite, memory)"))

	key = "batch-size"
	cmd.PersistentFlags().Int(key, def.BatchSize, WrapString("Maximum number of rows written per chunk"))

	key = "flush-interval"
	cmd.PersistentFlags().Duration(key, def.FlushInterval, WrapString("Minimum time between two deferred flushes of the global data"))

	key = "vacuum"
	cmd.PersistentFlags().Bool(key, def.Vacuum, WrapString("Compact the database file when the store is opened"))

	key = "script-global"
	cmd.PersistentFlags().String(key, def.ScriptGlobal, WrapString("Name of the object bound into script runtimes"))

	key = "log-level"
	cmd.PersistentFlags().String(key, def.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("skv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() (*common.StoreConfig, error) {
	conf := &common.StoreConfig{
		DBPath:        viper.GetString("db"),
		Engine:        viper.GetString("engine"),
		BatchSize:     viper.GetInt("batch-size"),
		FlushInterval: viper.GetDuration("flush-interval"),
		Vacuum:        viper.GetBool("vacuum"),
		ScriptGlobal:  viper.GetString("script-global"),
		LogLevel:      viper.GetString("log-level"),
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// GetDBFactory creates the backing store factory based on configuration
func GetDBFactory(conf *common.StoreConfig) (store.DBFactory, error) {
	opts := &db.Options{BatchSize: conf.BatchSize}
	switch db.Implementation(conf.Engine) {
	case db.ImplSQLite:
		return func(ctx context.Context) (db.BackingStore, error) {
			return sqlite.Open(ctx, conf.DBPath, opts)
		}, nil
	case db.ImplMemory:
		return func(context.Context) (db.BackingStore, error) {
			return memory.NewMemoryStore(opts), nil
		}, nil
	default:
		return nil, fmt.Errorf("invalid engine %s", conf.Engine)
	}
}

// OpenStore opens a store with the given configuration. If slot is set the
// save-slot is loaded.
func OpenStore(ctx context.Context, conf *common.StoreConfig, slot string) (*store.Store, error) {
	factory, err := GetDBFactory(conf)
	if err != nil {
		return nil, err
	}
	log.Debugf("opening store: %s", strings.ReplaceAll(strings.TrimSpace(conf.String()), "\n", ", "))
	s, err := store.New(ctx, factory, store.Options{
		FlushInterval: conf.FlushInterval,
		Vacuum:        conf.Vacuum,
	})
	if err != nil {
		return nil, err
	}
	if slot != "" {
		if err := s.OnLoad(ctx, slot); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
	}
	return s, nil
}

// WithStore opens the store, runs fn and closes the store again. The close
// flushes all pending changes, so a failing close fails the command.
func WithStore(ctx context.Context, slot string, fn func(s *store.Store) error) (err error) {
	conf, err := GetStoreConfig()
	if err != nil {
		return err
	}
	s, err := OpenStore(ctx, conf, slot)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			log.Errorf("closing store failed: %v", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(s)
}
