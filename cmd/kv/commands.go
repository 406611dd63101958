package kv

import (
	"fmt"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/value"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, slot, err := target()
			if err != nil {
				return err
			}
			typ, err := value.ParseType(viper.GetString("type"))
			if err != nil {
				return err
			}
			v, err := value.Parse(typ, args[1])
			if err != nil {
				return err
			}
			return util.WithStore(cmd.Context(), slot, func(s *store.Store) error {
				if err := s.Set(scope, args[0], v); err != nil {
					return err
				}
				fmt.Println("set successfully")
				return nil
			})
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, slot, err := target()
			if err != nil {
				return err
			}
			return util.WithStore(cmd.Context(), slot, func(s *store.Store) error {
				v, ok, err := s.Get(scope, args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("key=%s, found=false\n", args[0])
					return nil
				}
				fmt.Printf("key=%s, found=true, type=%s, value=%s\n", args[0], v.Type(), v.Format())
				return nil
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, slot, err := target()
			if err != nil {
				return err
			}
			return util.WithStore(cmd.Context(), slot, func(s *store.Store) error {
				removed, err := s.Delete(scope, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, deleted=%t\n", args[0], removed)
				return nil
			})
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, slot, err := target()
			if err != nil {
				return err
			}
			return util.WithStore(cmd.Context(), slot, func(s *store.Store) error {
				found, err := s.Exists(scope, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%t\n", args[0], found)
				return nil
			})
		},
	}
	allCmd = &cobra.Command{
		Use:   "all",
		Short: "Lists all key value pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, slot, err := target()
			if err != nil {
				return err
			}
			return util.WithStore(cmd.Context(), slot, func(s *store.Store) error {
				entries, err := s.All(scope)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf("%-30s %-8s %s\n", e.Key, e.Value.Type(), e.Value.Format())
				}
				fmt.Printf("(%d entries)\n", len(entries))
				return nil
			})
		},
	}
)

func init() {
	setCmd.Flags().String("type", "string", util.WrapString("Type of the value (bool, number, string)"))
}
