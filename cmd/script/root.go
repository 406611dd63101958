package script

import (
	"fmt"

	"github.com/ValentinKolb/sKV/cmd/util"
	libscript "github.com/ValentinKolb/sKV/lib/script"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// ScriptCommands represents the script command group
	ScriptCommands = &cobra.Command{
		Use:   "script",
		Short: "Run JavaScript against the store",
	}

	runCmd = &cobra.Command{
		Use:   "run [file]",
		Short: "Runs a script file",
		Long: `Runs a JavaScript file with the store API bound (see the LuaDB and DB
objects). With --slot the save-slot is loaded before and saved after the
script, so save-slot calls are available.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot := viper.GetString("slot")
			return util.WithStore(cmd.Context(), slot, func(s *store.Store) error {
				host := libscript.NewHost(s, libscript.Options{
					GlobalName: viper.GetString("script-global"),
					Output:     cmd.OutOrStdout(),
				})
				rt, err := host.Runtime(args[0])
				if err != nil {
					return err
				}
				res, err := rt.RunFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if res != nil {
					fmt.Fprintln(cmd.OutOrStdout(), res)
				}
				if slot != "" {
					return s.OnSave(cmd.Context(), slot)
				}
				return nil
			})
		},
	}
)

func init() {
	runCmd.Flags().String("slot", "", util.WrapString("Save-slot to load before and save after the script"))
	ScriptCommands.AddCommand(runCmd)
}
