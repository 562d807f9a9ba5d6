package main

import (
	"errors"
	"fmt"

	"github.com/hupe1980/featview/config"
	"github.com/spf13/cobra"
)

func newSeedCmd(flags *rootFlags) *cobra.Command {
	var nullRate float64

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the configured store with generated rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nullRate < 0 || nullRate > 1 {
				return errors.New("--nulls must be between 0 and 1")
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "memory" {
				return errors.New("the memory driver is not persistent; seed a sqlite or badger store")
			}

			st, closer, err := openStore(cmd.Context(), cfg, flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := seedRows(cmd.Context(), cfg, st, flags.rows, flags.seed, nullRate); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d rows into %s store %s\n", flags.rows, cfg.Store.Driver, cfg.Store.Path)
			return nil
		},
	}
	cmd.Flags().Float64Var(&nullRate, "nulls", 0.05, "fraction of cells left missing")
	return cmd
}
