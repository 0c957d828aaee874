package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Show or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Long: `Print the settings after defaults, the config file, DOCSTAGE_* environment
variables and flags are applied. The remote auth token is redacted unless
--show-secrets is given.

Examples:
  docstage config show
  docstage config show --format toml
  DOCSTAGE_SYNC_MAX_ITEMS=10 docstage config show --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		secrets, _ := cmd.Flags().GetBool("show-secrets")
		if jsonOut {
			format = config.FormatJSON
		}

		cfg := loadConfig(cmd)
		data, err := config.Render(cfg, format, secrets)
		if err != nil {
			fatalf("%v", err)
		}
		if cfg.File != "" && format != config.FormatJSON {
			printer().Muted("# from %s", cfg.File)
		}
		_, _ = os.Stdout.Write(data)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the current settings",
	Long: `Write the effective settings to a config file, by default
<data-dir>/docstage.yaml. The format follows the extension: .toml and .json
are recognised, anything else is written as YAML.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		cfg := loadConfig(cmd)
		path := filepath.Join(cfg.DataDir, config.FileName+".yaml")
		if len(args) == 1 {
			path = args[0]
		}

		if err := config.WriteFile(cfg, path, force); err != nil {
			fatalf("%v", err)
		}
		printer().Success("Wrote %s", path)
	},
}

func init() {
	configShowCmd.Flags().String("format", config.FormatYAML, "Output format: yaml, toml or json")
	configShowCmd.Flags().Bool("show-secrets", false, "Include the remote auth token")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
