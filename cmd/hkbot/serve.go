package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hkbot/internal/pipeline"
	"hkbot/internal/server"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and the message workers",
		Long:  "Receives WhatsApp webhook deliveries and answers them in the background. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.WhatsApp.AccessToken == "" || cfg.WhatsApp.PhoneNumberID == "" {
		logger.Warn("whatsapp credentials missing, replies will fail")
	}
	if cfg.WhatsApp.VerifyToken == "" {
		logger.Warn("whatsapp.verifyToken empty, webhook verification will always fail")
	}
	if err := ensureDirs(cfg.Media.DownloadDir); err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Warn("close failed", "err", err)
		}
	}()

	if cfg.Directory.Watch {
		if err := a.people.Watch(ctx); err != nil {
			logger.Warn("directory watch disabled", "err", err)
		}
	}

	queue := pipeline.NewQueue(pipeline.QueueConfig{
		Workers: cfg.General.Workers,
		Size:    cfg.General.QueueSize,
		Metrics: a.metrics,
		Logger:  logger,
	})
	// Workers outlive the signal so queued messages are still answered.
	queue.Start(context.WithoutCancel(ctx))

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr(),
		WebhookPath:       cfg.Server.WebhookPath,
		VerifyToken:       cfg.WhatsApp.VerifyToken,
		AppSecret:         cfg.WhatsApp.AppSecret,
		DefaultBusinessID: cfg.WhatsApp.BusinessID,
		MetricsPath:       cfg.Server.MetricsPath,
		MediaDir:          a.mediaDir(),
		DebugRoutes:       cfg.Server.DebugRoutes,
		Enqueue: func(d *pipeline.Delivery) error {
			return a.processor.Submit(queue, d)
		},
		Agent:   a.orchestrator,
		Sender:  a.whatsapp,
		Store:   a.store,
		Metrics: a.metrics,
		Logger:  logger,
	})

	logger.Info("hkbot started", "version", version, "addr", cfg.Server.Addr(), "workers", cfg.General.Workers)
	serveErr := srv.Run(ctx)

	logger.Info("draining queue...")
	done := make(chan struct{})
	go func() {
		queue.Close()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, pending messages dropped")
		if serveErr == nil {
			serveErr = fmt.Errorf("shutdown timed out")
		}
	}
	return serveErr
}
