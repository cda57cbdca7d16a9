package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wtsi-hgi/irobot/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample irobot configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/irobot/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  irobot init

  # Initialize with custom path
  irobot init --config /etc/irobot/config.yaml

  # Force overwrite an existing config
  irobot init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := config.SaveConfig(config.DefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	cmd.Printf("Configuration file created at: %s\n", configPath)
	cmd.Println("\nNext steps:")
	cmd.Println("  1. Edit the configuration file to set precache.location, irods.max_connections and httpd.authentication")
	cmd.Println("  2. Start the gateway with: irobot start")
	cmd.Printf("  3. Or specify a custom config: irobot start --config %s\n", configPath)

	return nil
}
