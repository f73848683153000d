package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/logging"
)

// defaultConfigPath is used when neither --config nor MQTTMCP_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "mqtt-mcp",
		Short: "MQTT publish and receive as MCP tools",
		Long: `mqtt-mcp exposes an MQTT broker to Model Context Protocol clients.

Run 'mqtt-mcp serve' to start the MCP server (stdio by default), or use
'mqtt-mcp publish' and 'mqtt-mcp receive' for one-shot operations.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"Path to config.yaml (default $MQTTMCP_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"Override the log level (debug|info|warn|error)")

	root.SetVersionTemplate(fmt.Sprintf("mqtt-mcp %s (commit %s, built %s)\n", version, commit, date))

	root.AddCommand(
		newServeCmd(flags),
		newPublishCmd(flags),
		newReceiveCmd(flags),
		newTokenCmd(flags),
	)

	return root
}

// path returns the configuration file path.
// The --config flag wins over MQTTMCP_CONFIG, which wins over the default.
func (f *globalFlags) path() string {
	if f.configPath != "" {
		return f.configPath
	}
	if path := os.Getenv("MQTTMCP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// load reads the configuration and builds the logger it describes.
func (f *globalFlags) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(f.path())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}

	return cfg, logging.New(cfg.Logging, version), nil
}
