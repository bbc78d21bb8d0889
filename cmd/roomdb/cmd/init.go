package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssargent/roomdb/pkg/config"
)

func newInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a roomdb configuration",
		Long: `Create a configuration file with a generated API key and make sure
the data directory exists. The memory file itself is created on first use.

Examples:
  roomdb init
  roomdb init --config ./roomdb.yaml --data-dir /var/lib/roomdb`,
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipSession,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			force, _ := cmd.Flags().GetBool("force")

			if configPath == "" {
				configPath = config.GetDefaultConfigPath()
			}
			if config.ConfigExists(configPath) && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}

			cfg, err := config.BootstrapConfig(configPath, dataDir)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}

			return printJSON(cmd, map[string]string{
				"config_path": configPath,
				"data_dir":    cfg.DataDir,
				"api_key":     cfg.Security.APIKey,
			})
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	return initCmd
}
