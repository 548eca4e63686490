package backend

import (
	"context"
	"fmt"
	"log/slog"

	"receipts/internal/ledger"
	"receipts/internal/sheets"
	gsheet "receipts/internal/sheets/google"
	"receipts/internal/sheets/memory"
	"receipts/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, storage.Options{
		Rule:     config.DuplicateRule,
		Location: config.Location,
		Logger:   f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Backend: repo,
		Cleanup: repo.Close,
		Ping:    repo.Ping,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	wb, err := gsheet.New(ctx, config.GoogleSpreadsheetID, config.GoogleCredentialsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "spreadsheet_id", config.GoogleSpreadsheetID)

	return &BackendResult{
		Backend: NewWorkbookBackend(wb, config, f.logger),
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	f.logger.Info("Initialized memory backend")

	return &BackendResult{
		Backend: NewWorkbookBackend(memory.New(), config, f.logger),
	}, nil
}

// workbookBackend assembles the sheet-backed components over one workbook.
type workbookBackend struct {
	*ledger.Ledger
	*ledger.SettingsStore
	*ledger.Summary
	*ledger.Audit
}

// NewWorkbookBackend builds the ledger, settings, summary and audit
// components on wb.
func NewWorkbookBackend(wb sheets.Workbook, config Config, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	settings := ledger.NewSettingsStore(wb, logger)
	return &workbookBackend{
		Ledger: ledger.New(wb, settings, ledger.Options{
			Rule:       config.DuplicateRule,
			SortByDate: config.SortByDate,
			Location:   config.Location,
			Logger:     logger,
		}),
		SettingsStore: settings,
		Summary:       ledger.NewSummary(wb, logger),
		Audit:         ledger.NewAudit(wb, config.Location),
	}
}
