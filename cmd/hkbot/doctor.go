package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hkbot/internal/agent"
	"hkbot/internal/config"
	"hkbot/internal/directory"
	"hkbot/internal/store"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your hkbot installation",
		Long: `Verifies that the configuration, database, specialist roster and
agent definitions are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("hkbot doctor v%s\n\n", version)
			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'hkbot init' to create a default configuration.\n")
				return fmt.Errorf("no config")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config validation", "valid")

			runDoctorChecks(cmd.Context(), cfg, r)

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func runDoctorChecks(ctx context.Context, cfg *config.Config, r *doctorReport) {
	if config.HasSecretRefs(cfg) {
		r.warn("Secrets", "ssm: references are resolved at startup, not checked here")
	} else {
		checkSet(r, "WhatsApp token", cfg.WhatsApp.AccessToken)
		checkSet(r, "Verify token", cfg.WhatsApp.VerifyToken)
		checkSet(r, "OpenAI key", cfg.OpenAI.APIKey)
	}
	if cfg.WhatsApp.AppSecret == "" {
		r.warn("Webhook signature", "whatsapp.appSecret empty, deliveries are not authenticated")
	}

	storeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if st, err := store.Open(storeCtx, cfg.Store, logger); err != nil {
		r.fail("Database", err.Error())
	} else {
		if err := st.Ping(storeCtx); err != nil {
			r.fail("Database", err.Error())
		} else {
			r.pass("Database", cfg.Store.Driver)
		}
		st.Close()
	}

	people := directory.Load(cfg.Directory.Path, logger)
	if people.Len() == 0 {
		r.warn("Specialists", fmt.Sprintf("no entries loaded from %s", cfg.Directory.Path))
	} else {
		r.pass("Specialists", fmt.Sprintf("%d loaded", people.Len()))
	}

	if defs, err := agent.LoadDefinitions(cfg.Agents.Path); err != nil {
		r.fail("Agents", err.Error())
	} else {
		r.pass("Agents", fmt.Sprintf("%v", defs.Names()))
	}

	if err := checkPort(cfg.Server.Addr()); err != nil {
		r.warn("Server port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
	} else {
		r.pass("Server port", cfg.Server.Addr()+" available")
	}
}

func checkSet(r *doctorReport, check, value string) {
	if value == "" {
		r.warn(check, "not configured")
		return
	}
	r.pass(check, "configured")
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
