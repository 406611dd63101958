package kv

import (
	"fmt"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value store operations",
		Long: `Perform key-value store operations on the global data (--global) or on
the data of a save-slot (--slot NAME). Changes are persisted when the
command finishes.`,
	}
)

func init() {
	KeyValueCommands.PersistentFlags().Bool("global", false, util.WrapString("Operate on the global data shared by all save-slots"))
	KeyValueCommands.PersistentFlags().String("slot", "", util.WrapString("Save-slot to load and operate on"))

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(allCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// target returns the scope and the save-slot selected by the flags
func target() (store.Scope, string, error) {
	slot := viper.GetString("slot")
	if viper.GetBool("global") {
		return store.ScopeGlobal, slot, nil
	}
	if slot == "" {
		return store.ScopeSave, "", fmt.Errorf("either --global or --slot is required")
	}
	return store.ScopeSave, slot, nil
}
