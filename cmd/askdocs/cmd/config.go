package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/askdocs/askdocs/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the askdocs configuration",
		Long: `Manage the askdocs configuration file.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. Config file (<data-dir>/askdocs.yaml or --config)
  3. Environment variables (ASKDOCS_*)
  4. Command-line flags`,
		Example: `  askdocs config init --documents-root /srv/docs
  askdocs config show
  askdocs config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (merged from all sources)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), configPath(cfg))
			return nil
		},
	}
}

// configPath resolves the config file location for the active data dir.
func configPath(cfg *config.Config) string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(cfg.Paths.DataDir, configFileName)
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := configPath(cfg)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
