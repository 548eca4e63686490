// Package storage is the SQLite ledger backend. Derived amounts and summary
// totals are computed by views on read instead of being stored.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"receipts/internal/core"
	"receipts/internal/sheets"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	dateLayout  = "2006-01-02"
	stampLayout = time.RFC3339

	duplicateFlag = "重複の可能性あり"
)

// SummaryItems precede the categories of every year.
var SummaryItems = []string{"経費合計", "経費外合計"}

type SQLiteRepository struct {
	db     *sql.DB
	rule   core.DuplicateRule
	loc    *time.Location
	logger *slog.Logger
}

var (
	_ sheets.LedgerWriter      = (*SQLiteRepository)(nil)
	_ sheets.StatusUpdater     = (*SQLiteRepository)(nil)
	_ sheets.SettingsReader    = (*SQLiteRepository)(nil)
	_ sheets.SummaryMaintainer = (*SQLiteRepository)(nil)
	_ sheets.AuditLogger       = (*SQLiteRepository)(nil)
	_ sheets.LedgerLister      = (*SQLiteRepository)(nil)
)

// Options tunes a SQLiteRepository.
type Options struct {
	Rule     core.DuplicateRule
	Location *time.Location
	Logger   *slog.Logger
}

func NewSQLiteRepository(dbPath string, opts Options) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent appends.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SQLiteRepository{
		db:     db,
		rule:   opts.Rule,
		loc:    opts.Location,
		logger: opts.Logger,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection, for readiness probes.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Append implements sheets.LedgerWriter
func (r *SQLiteRepository) Append(ctx context.Context, rec core.ExtractedRecord, fileURL string) (core.LedgerRowRef, error) {
	settings, err := r.Load(ctx)
	if err != nil {
		return core.LedgerRowRef{}, err
	}

	sheet := strconv.Itoa(rec.Year())
	existing, err := r.entries(ctx, sheet)
	if err != nil {
		return core.LedgerRowRef{}, err
	}
	duplicate := core.FindDuplicate(rec.Entry(), existing, r.rule)
	flag := ""
	if duplicate {
		flag = duplicateFlag
	}

	ratio := settings.Ratio(rec.Category)
	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ledger_rows (id, sheet_name, source, receipt_date, payee, category, amount, ratio, status, evidence_link, note, duplicate_warning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)`,
		id, sheet, core.SourceSlack, rec.Date.Format(dateLayout), rec.Payee, rec.Category,
		rec.Amount, ratio, fileURL, rec.Note(), flag)
	if err != nil {
		return core.LedgerRowRef{}, fmt.Errorf("insert ledger row: %w", err)
	}

	r.logger.InfoContext(ctx, "Ledger row saved to SQLite",
		"id", id,
		"sheet", sheet,
		"payee", rec.Payee,
		"amount", rec.Amount,
		"duplicate", duplicate)

	return core.LedgerRowRef{
		SheetName:    sheet,
		EvidenceLink: fileURL,
		RowKey:       id,
		Ratio:        ratio,
		Duplicate:    duplicate,
	}, nil
}

// SetStatus implements sheets.StatusUpdater
func (r *SQLiteRepository) SetStatus(ctx context.Context, sheetName, evidenceLink string, status core.ApprovalStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ledger_rows SET status = ? WHERE sheet_name = ? AND evidence_link = ?`,
		string(status), sheetName, evidenceLink)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n > 0 {
		return nil
	}

	var rows int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_rows WHERE sheet_name = ?`, sheetName).Scan(&rows); err != nil {
		return fmt.Errorf("count rows of %s: %w", sheetName, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", core.ErrSheetNotFound, sheetName)
	}
	return fmt.Errorf("%w: %s in %s", core.ErrRowNotFound, evidenceLink, sheetName)
}

// Load implements sheets.SettingsReader. An empty table is seeded with the
// preset.
func (r *SQLiteRepository) Load(ctx context.Context) (core.Settings, error) {
	out, err := r.readSettings(ctx)
	if err != nil {
		return core.Settings{}, err
	}
	if len(out.Categories) > 0 {
		return out, nil
	}
	return r.seedSettings(ctx)
}

func (r *SQLiteRepository) readSettings(ctx context.Context) (core.Settings, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, ratio FROM settings ORDER BY position`)
	if err != nil {
		return core.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var out core.Settings
	for rows.Next() {
		var name string
		var ratio float64
		if err := rows.Scan(&name, &ratio); err != nil {
			return core.Settings{}, fmt.Errorf("scan settings: %w", err)
		}
		out.Add(name, ratio)
	}
	if err := rows.Err(); err != nil {
		return core.Settings{}, fmt.Errorf("iterate settings: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) seedSettings(ctx context.Context) (core.Settings, error) {
	preset := core.DefaultSettings()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Settings{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, c := range preset.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (category, ratio, position) VALUES (?, ?, ?)`,
			c, preset.Ratios[c], i); err != nil {
			return core.Settings{}, fmt.Errorf("seed settings: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.Settings{}, fmt.Errorf("commit settings: %w", err)
	}
	r.logger.InfoContext(ctx, "Settings seeded with preset", "categories", len(preset.Categories))
	return preset, nil
}

// SetRatio inserts or updates one category.
func (r *SQLiteRepository) SetRatio(ctx context.Context, category string, ratio float64) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return errors.New("category cannot be empty")
	}
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("invalid ratio %v: must be between 0 and 1", ratio)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (category, ratio, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM settings))
		ON CONFLICT(category) DO UPDATE SET ratio = excluded.ratio`,
		category, ratio)
	if err != nil {
		return fmt.Errorf("set ratio for %s: %w", category, err)
	}
	return nil
}

// Reconcile implements sheets.SummaryMaintainer. Totals come from
// summary_view, so only the list of items per year is stored.
func (r *SQLiteRepository) Reconcile(ctx context.Context, year int, settings core.Settings) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	items := append(append([]string(nil), SummaryItems...), settings.Categories...)
	for _, item := range items {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO summary_categories (year, item, position)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM summary_categories WHERE year = ?))`,
			year, item, year)
		if err != nil {
			return fmt.Errorf("register summary item %s: %w", item, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit summary items: %w", err)
	}
	if added > 0 {
		r.logger.InfoContext(ctx, "Summary reconciled", "year", year, "added", added)
	}
	return nil
}

// SummaryRow is one line of summary_view.
type SummaryRow struct {
	Year   int
	Item   string
	Annual float64
	Months [12]float64
}

// Summary returns the computed summary of year in registration order.
func (r *SQLiteRepository) Summary(ctx context.Context, year int) ([]SummaryRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT year, item, annual_total, m01, m02, m03, m04, m05, m06, m07, m08, m09, m10, m11, m12
		FROM summary_view WHERE year = ? ORDER BY position`, year)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var s SummaryRow
		dest := []any{&s.Year, &s.Item, &s.Annual}
		for i := range s.Months {
			dest = append(dest, &s.Months[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DumpRequest implements sheets.AuditLogger
func (r *SQLiteRepository) DumpRequest(ctx context.Context, at time.Time, raw string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_dumps (received_at, raw) VALUES (?, ?)`,
		at.In(r.loc).Format(stampLayout), raw)
	if err != nil {
		return fmt.Errorf("insert request dump: %w", err)
	}
	return nil
}

// LogError implements sheets.AuditLogger
func (r *SQLiteRepository) LogError(ctx context.Context, e core.ErrorEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO error_logs (occurred_at, message, stage, event) VALUES (?, ?, ?, ?)`,
		e.Time.In(r.loc).Format(stampLayout), e.Message, e.Stage, e.Event)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}

// Entries implements sheets.LedgerLister
func (r *SQLiteRepository) Entries(ctx context.Context, year int) ([]core.LedgerEntry, error) {
	return r.entries(ctx, strconv.Itoa(year))
}

func (r *SQLiteRepository) entries(ctx context.Context, sheet string) ([]core.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT receipt_date, payee, category, amount, ratio, status, evidence_link
		FROM ledger_view WHERE sheet_name = ? ORDER BY receipt_date, created_at`, sheet)
	if err != nil {
		return nil, fmt.Errorf("query ledger rows: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		var (
			date, status string
			e            core.LedgerEntry
		)
		if err := rows.Scan(&date, &e.Payee, &e.Category, &e.Amount, &e.Ratio, &status, &e.EvidenceLink); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		if t, err := time.ParseInLocation(dateLayout, date, r.loc); err == nil {
			e.Date = t
		}
		e.Status = core.ApprovalStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
