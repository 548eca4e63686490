package sheets

import (
	"context"
	"time"

	"receipts/internal/core"
)

// Workbook is a spreadsheet of named tabular collections. Rows and columns
// are 1-based and row 1 is the header. Cell values follow user-entered
// semantics: strings starting with "=" are formulas.
type Workbook interface {
	// EnsureSheet creates the named collection when it is missing and
	// reports whether it was created by this call.
	EnsureSheet(ctx context.Context, name string) (created bool, err error)

	// ReadRows returns the evaluated cell values of every row, header
	// included. Trailing empty cells may be omitted. A missing collection
	// yields core.ErrSheetNotFound.
	ReadRows(ctx context.Context, sheet string) ([][]string, error)

	// AppendRows writes rows after the last non-empty row and returns the
	// row number of the first one written.
	AppendRows(ctx context.Context, sheet string, rows [][]any) (firstRow int, err error)

	// UpdateCell overwrites a single cell.
	UpdateCell(ctx context.Context, sheet string, row, col int, value any) error

	// InsertRows shifts row `at` and everything below it down and writes
	// rows starting at `at`.
	InsertRows(ctx context.Context, sheet string, at int, rows [][]any) error

	// FreezeHeader pins row 1.
	FreezeHeader(ctx context.Context, sheet string) error

	// SetValidation restricts the data rows of col to values. A soft rule
	// only warns on other input.
	SetValidation(ctx context.Context, sheet string, col int, values []string, strict bool) error

	// SortByColumn sorts the data rows by col, leaving the header in place.
	SortByColumn(ctx context.Context, sheet string, col int, ascending bool) error
}

// Ports for outbound adapters.
type (
	LedgerWriter interface {
		// Append records rec in its year collection and returns a handle
		// identifying the new row by evidence link.
		Append(ctx context.Context, rec core.ExtractedRecord, fileURL string) (core.LedgerRowRef, error)
	}

	StatusUpdater interface {
		SetStatus(ctx context.Context, sheetName, evidenceLink string, status core.ApprovalStatus) error
	}

	SettingsReader interface {
		Load(ctx context.Context) (core.Settings, error)
	}

	// SummaryMaintainer keeps the per-year aggregation in step with the
	// settings categories.
	SummaryMaintainer interface {
		Reconcile(ctx context.Context, year int, settings core.Settings) error
	}

	AuditLogger interface {
		DumpRequest(ctx context.Context, at time.Time, raw string) error
		LogError(ctx context.Context, entry core.ErrorEntry) error
	}

	// LedgerLister returns the rows of one year, for maintenance commands.
	LedgerLister interface {
		Entries(ctx context.Context, year int) ([]core.LedgerEntry, error)
	}
)
