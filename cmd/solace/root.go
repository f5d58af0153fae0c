package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/solace/internal/app"
	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/logger"
)

var (
	// cfgFile is the optional YAML config path.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "solace",
		Short:         "Memory-augmented CBT companion.",
		Long:          `Serves and runs the solace reply pipeline: retrieve memories, respond, persist the exchange.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute registers the subcommands and runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(versionCmd())
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "YAML config file (default is $SOLACE_CONFIG)")

	cobra.OnInitialize(initialize)

	registerCommands()
}

func initialize() {
	if cfgFile != "" {
		_ = os.Setenv("SOLACE_CONFIG", cfgFile)
	}
}

// bootstrap loads config, sets up logging and builds the pipeline. The
// returned closer releases everything bootstrap acquired.
func bootstrap(ctx context.Context) (*app.BuildResult, zerolog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("config error: %w", err)
	}
	log, closeLog, err := logger.Init(logger.Config{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		Output:   cfg.LogOutput,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("logger init failed: %w", err)
	}
	res, err := app.Build(ctx, cfg, log)
	if err != nil {
		_ = closeLog()
		return nil, log, nil, err
	}
	closeAll := func() {
		if err := res.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
		_ = closeLog()
	}
	return res, log, closeAll, nil
}
