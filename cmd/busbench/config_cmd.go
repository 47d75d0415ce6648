package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/messagebus/internal/config"
)

func newConfigCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective bus configuration",
		Long:  "Print the bus configuration after applying defaults, the configuration file and MESSAGEBUS_* environment overrides.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out, err := config.Encode(config.Format(format), cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(config.FormatYAML), "Output format (yaml, toml)")
	return cmd
}
