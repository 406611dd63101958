package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/sKV/cmd/kv"
	"github.com/ValentinKolb/sKV/cmd/script"
	"github.com/ValentinKolb/sKV/cmd/slot"
	"github.com/ValentinKolb/sKV/cmd/stats"
	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "skv",
		Short: "save-slot aware key-value store",
		Long: fmt.Sprintf(`sKV (v%s)

An embedded key-value store with two scopes: data bound to a save-slot and
global data shared by all save-slots. Reads and writes are served from
memory, changes are persisted to SQLite on save and in rate-limited flushes.

Flags can also be set via environment variables in the format SKV_<flag>
(e.g. SKV_DB=./game.db).`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sKV v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(slot.SlotCommands)
	RootCmd.AddCommand(script.ScriptCommands)
	RootCmd.AddCommand(stats.StatsCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupStoreFlags(RootCmd)
}

// setup binds the flags of the executed command and configures the loggers
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
