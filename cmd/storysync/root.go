package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/storysync/internal/config"
	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/output"
)

var (
	cfgFile string
	verbose bool
	noColor bool
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "storysync",
	Short: "Offline-first sync core for the story app",
	Long: `storysync keeps a local copy of the story feed and favorites, queues
stories written while offline and uploads them when the network returns.

Example usage:
  storysync serve                 # Serve the local API and sync in the background
  storysync drain                 # Upload queued stories now
  storysync queue list            # Show the offline queue
  storysync favorites export -o favorites.json`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./storysync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// initConfig loads configuration and sets up logging.
func initConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded

	level := logging.ParseLevel(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	if cfg.Logging.Format == "console" {
		logging.InitConsole(os.Stderr, level)
	} else {
		logging.Init(os.Stderr, level)
	}

	logging.Debug("Configuration loaded", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"api":      cfg.API.BaseURL,
	})
	return nil
}

func printer(cmd *cobra.Command) *output.Printer {
	return output.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), !noColor && output.UseColors())
}
