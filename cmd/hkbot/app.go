package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"hkbot/internal/agent"
	"hkbot/internal/config"
	"hkbot/internal/directory"
	"hkbot/internal/domain"
	"hkbot/internal/history"
	"hkbot/internal/media"
	"hkbot/internal/metrics"
	"hkbot/internal/pipeline"
	"hkbot/internal/provider"
	"hkbot/internal/storage"
	"hkbot/internal/store"
	"hkbot/internal/tool"
	"hkbot/internal/tracing"
	"hkbot/internal/whatsapp"
)

// app holds every long-lived component of a running bot.
type app struct {
	cfg          *config.Config
	store        domain.Store
	objects      domain.ObjectStore
	people       *directory.Directory
	whatsapp     *whatsapp.Client
	history      *history.Store
	orchestrator *agent.Orchestrator
	processor    *pipeline.Processor
	metrics      *metrics.Pipeline
	shutdown     func(context.Context) error
}

// buildApp wires the bot from cfg. Nothing is started; call close when done.
// On error everything opened so far is released again.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	var cleanups unwind
	fail := func(err error) (*app, error) {
		if cerr := cleanups.run(); cerr != nil {
			logger.Warn("cleanup after failed startup", "err", cerr)
		}
		return nil, err
	}

	shutdown, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	cleanups.push(func() error { return shutdown(context.WithoutCancel(ctx)) })

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fail(fmt.Errorf("store: %w", err))
	}
	cleanups.push(st.Close)

	objects, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}

	m := metrics.New()
	people := directory.Load(cfg.Directory.Path, logger)

	wa := whatsapp.NewClient(whatsapp.Config{
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		APIBase:       cfg.WhatsApp.APIBase,
		APIVersion:    cfg.WhatsApp.APIVersion,
		RatePerSecond: cfg.WhatsApp.SendRatePerSecond,
		Burst:         cfg.WhatsApp.SendBurst,
		Logger:        logger,
	})

	llm := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		APIBase: cfg.OpenAI.APIBase,
		Model:   cfg.OpenAI.Model,
		Logger:  logger,
	})
	whisper := provider.NewWhisper(provider.WhisperConfig{
		APIBase:  cfg.OpenAI.APIBase,
		APIKey:   cfg.OpenAI.APIKey,
		Model:    cfg.OpenAI.TranscriptionModel,
		Language: cfg.OpenAI.TranscriptionLanguage,
		Logger:   logger,
	})

	hist := history.New(history.Config{Store: st, Limit: cfg.General.HistoryLimit, Logger: logger})

	tools := registerTools(st, people, wa, hist, llm, cfg, logger)

	defs, err := agent.LoadDefinitions(cfg.Agents.Path)
	if err != nil {
		return fail(fmt.Errorf("agents: %w", err))
	}

	runner := agent.NewRunner(agent.RunnerConfig{
		Provider:    llm,
		Tools:       tools,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		MaxSteps:    cfg.General.MaxToolSteps,
		Metrics:     m,
		Logger:      logger,
	})
	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		History:      hist,
		Runner:       runner,
		Definitions:  defs,
		Selector:     agent.NewSelector(people),
		HistoryLimit: cfg.General.HistoryLimit,
		Timeout:      cfg.General.AgentTimeout(),
		Metrics:      m,
		Logger:       logger,
	})

	normalizer := media.New(media.Config{
		Fetcher:      wa,
		Transcriber:  whisper,
		Objects:      objects,
		DownloadDir:  cfg.Media.DownloadDir,
		MaxDimension: cfg.Media.MaxImageDimension,
		Logger:       logger,
	})
	dispatcher := pipeline.NewDispatcher(pipeline.DispatcherConfig{
		Sender:        wa,
		History:       hist,
		FallbackReply: cfg.General.FallbackReply,
		Metrics:       m,
		Logger:        logger,
	})
	proc := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Dedup:        st,
		Normalizer:   normalizer,
		History:      hist,
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Metrics:      m,
		Logger:       logger,
	})

	return &app{
		cfg:          cfg,
		store:        st,
		objects:      objects,
		people:       people,
		whatsapp:     wa,
		history:      hist,
		orchestrator: orch,
		processor:    proc,
		metrics:      m,
		shutdown:     shutdown,
	}, nil
}

// registerTools creates the agent tools with their backends.
func registerTools(st domain.Store, people *directory.Directory, sender domain.Sender, hist *history.Store, llm domain.Provider, cfg *config.Config, logger *slog.Logger) *tool.Registry {
	reg := tool.NewRegistry(logger)
	reg.Register(tool.NewGetPersonTool(people))
	reg.Register(tool.NewGetOpenTicketsTool(st))
	reg.Register(tool.NewCreateTicketTool(st))
	reg.Register(tool.NewUpdateTicketTool(st))

	scanner := tool.NewImageScanner(tool.ImageScannerConfig{
		Images:   hist,
		Provider: llm,
		Model:    cfg.OpenAI.Model,
		Logger:   logger,
	})
	reg.Register(tool.NewSendToSpecialistTool(sender, scanner, logger))
	return reg
}

// mediaDir is the directory served under /media/, if objects stay local.
func (a *app) mediaDir() string {
	if l, ok := a.objects.(*storage.Local); ok {
		return l.Dir()
	}
	return ""
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// unwind releases resources in reverse order of acquisition.
type unwind []func() error

func (u *unwind) push(f func() error) { *u = append(*u, f) }

func (u *unwind) run() error {
	var errs []error
	for i := len(*u) - 1; i >= 0; i-- {
		errs = append(errs, (*u)[i]())
	}
	*u = nil
	return errors.Join(errs...)
}

func ensureDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
