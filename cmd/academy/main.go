package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flame_academy/internal/config"
)

var (
	configPath string
	verbose    bool
	logFormat  string
	dbPath     string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "academy",
	Short: "Flame Academy - route learning tasks to tutoring agents",
	Long: `Flame Academy matches a learner's request to the best tutoring agent and
runs multi-topic learning journeys as dependency-ordered plans.

Use 'academy serve' to start the HTTP API, or run a journey directly:
  academy journey counting shapes "fairy tales" --age 7`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if dbPath != "" {
			cfg.Orchestrator.DBPath = dbPath
		}
		logger, err = newLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default: ~/.flame_academy/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log encoding: json or console")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path override")

	rootCmd.AddCommand(serveCmd, routeCmd, journeyCmd, sessionCmd, agentsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds a JSON production logger, or a development logger for the
// console format. verbose forces debug level.
func newLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level := zapcore.InfoLevel
	if lc.Level != "" {
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", lc.Level, err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
