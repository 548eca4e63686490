package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"receipts/internal/amqp"
	"receipts/internal/approval"
	"receipts/internal/cache"
	"receipts/internal/cli"
	apphttp "receipts/internal/http"
	"receipts/internal/log"
	"receipts/internal/services"
	"receipts/internal/slack"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentGateway)

	ctx, stop := cli.SignalContext()
	defer stop()

	pipeline, err := cli.BuildPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize pipeline", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.Error("Failed to close pipeline", log.FieldError, err)
		}
	}()

	dedup := cache.NewDedup(cfg.DedupMaxEntries, cfg.DedupTTL)
	caches := cache.NewManager(time.Minute, logger.WithComponent(log.ComponentCache).Logger)
	caches.Register(dedup)

	var publisher services.Publisher
	if cfg.AsyncMode() {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("Receipts are queued for receipts-worker", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	}

	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Dedup:         dedup,
		Processor:     pipeline.Receipts,
		Publisher:     publisher,
		Audit:         pipeline.Backend,
		TargetChannel: cfg.TargetChannelID,
		Logger:        logger.WithComponent(log.ComponentDispatch).Logger,
	})
	callback := approval.NewCallback(pipeline.Backend, pipeline.Slack, logger.WithComponent(log.ComponentApproval).Logger)

	opts := apphttp.Options{
		Addr:               ":" + cfg.Port,
		Dispatcher:         dispatcher,
		Interactions:       callback,
		Audit:              pipeline.Backend,
		DumpRequests:       cfg.AuditRequestDump,
		Ready:              pipeline.Ping,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger.WithComponent(log.ComponentHTTP).Logger,
	}
	if cfg.SlackSigningSecret != "" {
		opts.Verifier = slack.NewVerifier(cfg.SlackSigningSecret)
	} else {
		logger.Warn("SLACK_SIGNING_SECRET not set; requests are not verified")
	}
	srv := apphttp.NewServer(opts)
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting receipts gateway", "port", cfg.Port, "data_backend", cfg.DataBackend, "file_backend", cfg.FileBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return caches.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("Shutting down gateway", log.FieldOperation, log.OpShutdown)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Gateway stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Gateway stopped gracefully")
}
