package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"HeadlineBot/internal/app"
	"HeadlineBot/internal/config"
	"HeadlineBot/internal/logging"
)

var (
	version    = "dev"
	configPath string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "headlinebot",
		Short: "Curates negative UK political headlines and posts them on a schedule",
		Long: `HeadlineBot ingests news feeds, keeps the items about the prime minister
that read most negative, plans them into peak-hour slots and posts them
through a rate-limited publication gate.

Negativity comes from the configured sentiment provider. The default
provider "none" scores every item neutral, so with filter.requireNegative
on (the default) nothing is ingested until sentiment.provider is set to
http or chatgpt.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (overrides HEADLINEBOT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version info",
			Run: func(cmd *cobra.Command, args []string) {
				if jsonOutput {
					printJSON(cmd.OutOrStdout(), map[string]string{"version": version})
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "headlinebot %s\n", version)
			},
		},
		serveCmd(),
		ingestCmd(),
		planCmd(),
		executeCmd(),
		postCmd(),
		itemsCmd(),
		queueCmd(),
		statsCmd(),
		migrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("HEADLINEBOT_CONFIG", configPath); err != nil {
			return config.Config{}, fmt.Errorf("set config path: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// withApp builds the application for a single command and closes it afterwards.
// SIGINT and SIGTERM cancel ctx.
func withApp(cmd *cobra.Command, run func(ctx context.Context, a *app.Application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("close application", "error", err)
		}
	}()

	return run(ctx, application)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
