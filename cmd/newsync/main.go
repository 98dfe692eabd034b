package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pders01/newsync/internal/config"
	"github.com/pders01/newsync/internal/debuglog"
)

// Version is the version of the application, set at build time
var Version = "dev"

var (
	flagConfig   string
	flagDB       string
	flagLogLevel string
	flagQuiet    bool
	flagMetrics  string

	flagListLimit   int
	flagSearchLimit int
)

var rootCmd = &cobra.Command{
	Use:           "newsync",
	Short:         "Keep a local news cache in sync with a remote source",
	Long:          "newsync fetches a remote news collection on a schedule and keeps a local bbolt cache and search index consistent with it.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "newsync %s\n", Version)
		fmt.Fprintln(out, "news cache synchronizer")
		fmt.Fprintln(out, "github.com/pders01/newsync")
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configGenCmd = &cobra.Command{
	Use:   "generate [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath()
		if len(args) == 1 {
			path = args[0]
		} else if flagConfig != "" {
			path = flagConfig
		}
		if err := config.GenerateDefaultConfig(path); err != nil {
			return fmt.Errorf("generating config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to database file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error, off (overrides config)")

	listCmd.Flags().IntVarP(&flagListLimit, "limit", "n", 20, "maximum number of records to show")
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 10, "maximum number of results")
	runCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "only report failures")
	runCmd.Flags().StringVar(&flagMetrics, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	configCmd.AddCommand(configGenCmd)
	rootCmd.AddCommand(versionCmd, configCmd, runCmd, refreshCmd, listCmd, searchCmd)
}

// loadConfig reads .env from the working directory when present, applies the
// flag overrides on top of the config file and sets up logging.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagMetrics != "" {
		cfg.Metrics.Addr = flagMetrics
	}
	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	return cfg, nil
}

func main() {
	defer debuglog.Close()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		debuglog.Close()
		os.Exit(1)
	}
}
