package stats

import (
	"fmt"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// StatsCmd prints information about the store and the backing database
	StatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints store, database and metrics information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return util.WithStore(cmd.Context(), viper.GetString("slot"), func(s *store.Store) error {
				info, err := s.Info(cmd.Context())
				if err != nil {
					return err
				}
				slots, err := s.Slots(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(map[string]any{
					"store":    s.Stats(),
					"database": info,
					"slots":    slots,
				}); err != nil {
					return err
				}
				if err := enc.Close(); err != nil {
					return err
				}

				if viper.GetBool("metrics") {
					fmt.Fprintln(out)
					store.WriteMetrics(out)
				}
				return nil
			})
		},
	}
)

func init() {
	StatsCmd.Flags().String("slot", "", util.WrapString("Save-slot to load"))
	StatsCmd.Flags().Bool("metrics", false, util.WrapString("Also print the metrics of this run in Prometheus format"))
}
