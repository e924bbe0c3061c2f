// Package commands implements the intelctl operator CLI.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/app"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/config"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/logging"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "intelctl",
	Short: "Operate the interconnected intelligence engine",
	Long: `intelctl runs one-off operations against the intelligence store:
schema migrations, ad-hoc cascade analysis and export, a single risk scan,
and usage inspection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to a YAML config file (defaults to $"+config.ConfigFileEnv+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level written to stderr")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(usageCmd)
}

type env struct {
	cfg    config.Config
	store  app.Store
	logger *zap.Logger
	close  func()
}

func loadConfig() (config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// setup loads configuration and opens the store. Callers must call close.
func setup(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logLevel, "console")
	if err != nil {
		return nil, err
	}
	store, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		store:  store,
		logger: logger,
		close: func() {
			closeStore()
			_ = logger.Sync()
		},
	}, nil
}

func fail(err error, msg string) error {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return err
}
