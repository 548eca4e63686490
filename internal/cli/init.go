// Package cli holds the start-up wiring shared by cmd/receipts,
// cmd/receipts-worker and cmd/receipts-admin.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"receipts/internal/approval"
	"receipts/internal/backend"
	"receipts/internal/config"
	"receipts/internal/extract"
	"receipts/internal/filestore"
	"receipts/internal/filestore/drive"
	"receipts/internal/filestore/gcs"
	"receipts/internal/log"
	"receipts/internal/services"
	"receipts/internal/slack"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from cfg and installs it as the default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
	}).WithComponent(component)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Pipeline holds the components shared by the gateway, the worker and the
// admin tool.
type Pipeline struct {
	Backend  backend.Backend
	Ping     func(ctx context.Context) error
	Slack    *slack.Client
	Models   *extract.ModelSelector
	Receipts *services.ReceiptService

	closers []func() error
}

// Close releases every resource opened by BuildPipeline.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// BuildPipeline connects the ledger backend, the file store, the extraction
// model and Slack according to cfg.
func BuildPipeline(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Pipeline, error) {
	p := &Pipeline{}
	fail := func(err error) (*Pipeline, error) {
		_ = p.Close()
		return nil, err
	}
	loc := cfg.Location()
	clock := filestore.Clock(loc)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return fail(fmt.Errorf("backend config: %w", err))
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fail(err)
	}
	p.Backend, p.Ping = res.Backend, res.Ping
	if res.Cleanup != nil {
		p.closers = append(p.closers, res.Cleanup)
	}

	provider, err := extract.NewGenAI(ctx, extract.GenAIConfig{APIKey: cfg.GeminiAPIKey})
	if err != nil {
		return fail(fmt.Errorf("extraction model: %w", err))
	}
	extractLogger := logger.WithComponent(log.ComponentExtract).Logger
	p.Models = extract.NewModelSelector(provider, cfg.GeminiModel, cfg.ModelCacheTTL, extractLogger)
	vision := extract.NewVision(provider, p.Models, extractLogger)

	files, ocr, err := buildFileStore(ctx, cfg, clock, logger.WithComponent(log.ComponentFiles))
	if err != nil {
		return fail(err)
	}
	if c, ok := files.(interface{ Close() error }); ok {
		p.closers = append(p.closers, c.Close)
	}
	if ocr == nil {
		ocr = vision
	}

	slackLogger := logger.WithComponent(log.ComponentSlack).Logger
	p.Slack = slack.NewClient(cfg.SlackBotToken, slack.WithLogger(slackLogger))

	p.Receipts = services.NewReceiptService(services.ReceiptDeps{
		Downloader: p.Slack,
		Files:      files,
		OCR:        ocr,
		Extractor: extract.NewClient(provider, p.Models, extract.Options{
			Now:    clock,
			Logger: extractLogger,
		}),
		Settings: p.Backend,
		Ledger:   p.Backend,
		Summary:  p.Backend,
		Notifier: approval.NewNotifier(p.Slack, logger.WithComponent(log.ComponentApproval).Logger),
		Audit:    p.Backend,
		PDFText:  extract.PDFText,
		Now:      clock,
		Logger:   logger.WithComponent(log.ComponentReceipt).Logger,
	})
	return p, nil
}

// buildFileStore returns the configured store and, for Drive, its OCR. The
// other stores leave OCR to the vision model.
func buildFileStore(ctx context.Context, cfg *config.Config, clock func() time.Time, logger *log.Logger) (filestore.Store, filestore.Recognizer, error) {
	switch cfg.FileBackend {
	case "drive":
		creds, err := cfg.GoogleCredentialsJSON()
		if err != nil {
			return nil, nil, err
		}
		store, err := drive.New(ctx, cfg.DriveRootFolderID, creds, drive.Options{
			OCRLanguage: cfg.OCRLanguage,
			Now:         clock,
			Logger:      logger.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("drive file store: %w", err)
		}
		logger.Info("Initialized Drive file store", "root_folder", cfg.DriveRootFolderID)
		return store, store, nil
	case "gcs":
		creds, err := cfg.GoogleCredentialsJSON()
		if err != nil {
			return nil, nil, err
		}
		store, err := gcs.New(ctx, cfg.GCSBucket, creds, gcs.Options{
			Prefix: cfg.GCSPrefix,
			Now:    clock,
			Logger: logger.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs file store: %w", err)
		}
		logger.Info("Initialized GCS file store", "bucket", cfg.GCSBucket, "prefix", cfg.GCSPrefix)
		return store, nil, nil
	case "memory":
		logger.Warn("Using in-memory file store; evidence files are lost on restart")
		return filestore.NewMemory(clock), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported file backend: %s", cfg.FileBackend)
	}
}
