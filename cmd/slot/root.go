package slot

import (
	"fmt"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SlotCommands represents the save-slot command group
	SlotCommands = &cobra.Command{
		Use:   "slot",
		Short: "Inspect and maintain save-slots",
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all persisted save-slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithStore(cmd.Context(), "", func(s *store.Store) error {
				names, err := s.Slots(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Println(name)
				}
				fmt.Printf("(%d save-slots)\n", len(names))
				return nil
			})
		},
	}

	copyCmd = &cobra.Command{
		Use:   "copy [from] [to]",
		Short: "Copies the persisted data of one save-slot into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithStore(cmd.Context(), "", func(s *store.Store) error {
				n, err := s.CopySlot(cmd.Context(), args[0], args[1], viper.GetBool("overwrite"))
				if err != nil {
					return err
				}
				fmt.Printf("copied %d rows from %s to %s\n", n, args[0], args[1])
				return nil
			})
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Prints the global data and the data of a save-slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithStore(cmd.Context(), viper.GetString("slot"), func(s *store.Store) error {
				return s.Dump(cmd.OutOrStdout(), store.DumpFormat(viper.GetString("format")))
			})
		},
	}
)

func init() {
	copyCmd.Flags().Bool("overwrite", false, util.WrapString("Overwrite keys that already exist in the target save-slot"))
	dumpCmd.Flags().String("slot", "", util.WrapString("Save-slot to load before dumping"))
	dumpCmd.Flags().String("format", string(store.DumpText), util.WrapString("Output format (text, yaml)"))

	SlotCommands.AddCommand(listCmd)
	SlotCommands.AddCommand(copyCmd)
	SlotCommands.AddCommand(dumpCmd)
}
