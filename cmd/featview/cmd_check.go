package main

import (
	"fmt"

	"github.com/hupe1980/featview/config"
	"github.com/spf13/cobra"
)

func newCheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			reg, err := config.FromConfig(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config %s is valid\n", flags.configPath)
			fmt.Fprintf(out, "features: %d active (%d stored)\n", len(reg.ActiveFeatures())-1, len(storedFeatures(cfg)))
			fmt.Fprintf(out, "groups:   %d\n", len(reg.ActiveGroups()))
			fmt.Fprintf(out, "scoring:  %s\n", reg.ActiveStrategy().Name())
			fmt.Fprintf(out, "store:    %s %s\n", cfg.Store.Driver, cfg.Store.Path)
			return nil
		},
	}
}
