package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"hkbot/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	closeLog   = func() error { return nil }
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "hkbot",
		Short: "hkbot: WhatsApp housekeeping assistant",
		Long:  "hkbot answers WhatsApp messages with an LLM agent that tracks maintenance tickets and contacts specialists.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional; real environment variables win.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				logger.Warn("cannot read .env", "err", err)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = closeLog()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.hkbot/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(agentCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hkbot", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag, HKBOT_CONFIG
// or the default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("HKBOT_CONFIG"); p != "" {
		return p
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, resolves ssm: secrets and replaces the
// bootstrap logger with the configured one.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closeLog = config.SetupLogger(cfg.General.LogLevel, cfg.General.LogFile)

	if config.HasSecretRefs(cfg) {
		params, err := config.NewSSMParamsFromEnv(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("secrets: %w", err)
		}
		if err := config.ResolveSecrets(ctx, cfg, params); err != nil {
			return nil, fmt.Errorf("resolve secrets: %w", err)
		}
		logger.Info("secrets resolved from ssm")
	}
	return cfg, nil
}
