package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // Timezones resolve in images without system zoneinfo

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported, later files win
	serverPort  int
	serverHost  string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "taskferry",
	Short: "Export Productive.io projects to CSV and Linear",
	Long: `Taskferry exports the tasks of a Productive.io project, with comments and
assignees, to a downloadable CSV and can replicate them into a Linear team.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig runs the startup sequence shared by every command:
// defaults, config files, .env, environment, then flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	if len(configFiles) == 0 {
		if _, err := os.Stat("taskferry.toml"); err == nil {
			configFiles = append(configFiles, "taskferry.toml")
		} else if _, err := os.Stat("deployments/local/taskferry.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/taskferry.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)
	logger = common.InitLogger(config)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error().Err(err).Msg("Taskferry exited with error")
		}
		os.Exit(1)
	}
}
