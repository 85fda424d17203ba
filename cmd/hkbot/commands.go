package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hkbot/internal/config"
	"hkbot/internal/domain"
	"hkbot/internal/store/postgres"
	"hkbot/internal/store/sqlite"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "sqlite" {
				v, err := sqliteVersion(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				fmt.Printf("sqlite schema at version %d\n", v)
				return nil
			}
			mg, err := postgres.NewMigrator(cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			defer mg.Close()
			if err := mg.Up(); err != nil {
				return err
			}
			return printPostgresVersion(mg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (postgres only, default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive number, got %q", args[0])
				}
				steps = n
			}
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return errors.New("migrate down is only supported for the postgres driver")
			}
			mg, err := postgres.NewMigrator(cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			defer mg.Close()
			if err := mg.Down(steps); err != nil {
				return err
			}
			return printPostgresVersion(mg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "sqlite" {
				v, err := sqliteVersion(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				fmt.Printf("sqlite schema at version %d\n", v)
				return nil
			}
			mg, err := postgres.NewMigrator(cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			defer mg.Close()
			return printPostgresVersion(mg)
		},
	})

	return cmd
}

// sqliteVersion opens the database, which applies pending migrations.
func sqliteVersion(ctx context.Context, cfg *config.Config) (int, error) {
	st, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Store.SQLitePath, Logger: logger})
	if err != nil {
		return 0, err
	}
	defer st.Close()
	return sqlite.GetSchemaVersion(ctx, st.DB())
}

func printPostgresVersion(mg *postgres.Migrator) error {
	v, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	fmt.Printf("postgres schema at version %d (dirty: %t)\n", v, dirty)
	return nil
}

func agentCmd() *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   `agent "<message>"`,
		Short: "Run an agent once on a message and print the answer",
		Long:  "Runs the requester agent (or --agent) on an ad-hoc conversation. Tools act on real data, nothing is added to chat history.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			out := a.orchestrator.RunDirect(ctx, agentName, strings.Join(args, " "), nil)
			if !out.Completed() {
				return fmt.Errorf("agent %s %s: %w", out.Agent, out.State, out.Err)
			}
			for _, tc := range out.Result.ToolCalls {
				logger.Info("tool call", "tool", tc.Name, "args", tc.Arguments)
			}
			fmt.Println(out.FinalOutput)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent to run (default: requester)")
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <phone> <text>",
		Short: "Send a WhatsApp text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			to := domain.NormalizePhone(args[0])
			if to == "" {
				return fmt.Errorf("invalid phone number %q", args[0])
			}
			if err := a.whatsapp.SendText(ctx, to, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			logger.Info("message sent", "to", to)
			return nil
		},
	}
}

const peopleTemplate = `# Specialist roster. type is one of:
# Electrician, Plumber, Food & Beverage, Blacksmith, Receptionist
people:
  - name: Example Electrician
    phone: "10000000000"
    type: Electrician
`

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and specialist roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			cfg.Directory.Path = filepath.Join(filepath.Dir(cfgPath), "people.yaml")
			cfg.WhatsApp.AccessToken = "${WHATSAPP_ACCESS_TOKEN}"
			cfg.WhatsApp.VerifyToken = "${WHATSAPP_VERIFY_TOKEN}"
			cfg.WhatsApp.PhoneNumberID = "${WHATSAPP_PHONE_NUMBER_ID}"
			cfg.OpenAI.APIKey = "${OPENAI_API_KEY}"
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Directory.Path); os.IsNotExist(err) {
				if err := os.WriteFile(cfg.Directory.Path, []byte(peopleTemplate), 0o644); err != nil {
					return fmt.Errorf("write roster: %w", err)
				}
			}
			logger.Info("initialized", "config", cfgPath, "people", cfg.Directory.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.workers 4)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, path := range slices.Sorted(maps.Keys(paths)) {
				fmt.Printf("%s = %v\n", path, paths[path])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
