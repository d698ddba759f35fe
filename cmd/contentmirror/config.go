package main

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/contentmirror/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	Long: `Print the configuration as loaded: file values, CONTENTMIRROR_* overrides and
defaults applied. Tokens, passwords and the webhook secret are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func printConfig(out io.Writer, cfg *config.RunConfig) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
