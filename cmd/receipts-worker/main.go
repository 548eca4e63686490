package main

import (
	"context"
	"errors"
	"os"
	"time"

	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"receipts/internal/amqp"
	"receipts/internal/cache"
	"receipts/internal/cli"
	"receipts/internal/log"
	"receipts/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	if !cfg.AsyncMode() {
		logger.Error("AMQP_URL is required for receipts-worker")
		os.Exit(1)
	}

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

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Redeliveries after a crash would otherwise append a second row.
	seen := cache.NewDedup(cfg.DedupMaxEntries, cfg.DedupTTL)
	caches := cache.NewManager(time.Minute, logger.WithComponent(log.ComponentCache).Logger)
	caches.Register(seen)

	receiptWorker := worker.NewReceiptWorker(pipeline.Receipts, pipeline.Backend, seen, logger.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Consuming receipt jobs", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		err := amqpClient.ConsumeReceiptJobs(gctx, receiptWorker.HandleReceiptJob)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return caches.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
