package backend

import (
	"context"
	"time"

	"receipts/internal/core"
	"receipts/internal/sheets"
)

// Backend represents a unified backend interface that provides all ledger operations
type Backend interface {
	sheets.LedgerWriter
	sheets.StatusUpdater
	sheets.SettingsReader
	sheets.SummaryMaintainer
	sheets.AuditLogger
	sheets.LedgerLister
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	Cleanup CleanupFunc
	// Ping checks the backend for readiness probes; nil means always ready.
	Ping func(ctx context.Context) error
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets specific
	GoogleSpreadsheetID   string
	GoogleCredentialsJSON []byte

	// Ledger behaviour shared by every backend
	DuplicateRule core.DuplicateRule
	SortByDate    bool
	Location      *time.Location
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
