// Package ledger keeps the receipt ledger in a spreadsheet workbook: one
// collection per year, a settings collection, a summary collection and two
// audit collections.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"receipts/internal/core"
	"receipts/internal/sheets"
)

// Ledger columns, 1-based.
const (
	ColSource = iota + 1
	ColDate
	ColPayee
	ColCategory
	ColAmount
	ColRatio
	ColDerived
	ColStatus
	ColEvidence
	ColNote
	ColDuplicate
)

// Headers is the header row of every year collection.
var Headers = []any{"入力元", "日付", "支払先", "名目", "総額", "按分率", "経費計上額", "経費フラグ", "証憑URL", "備考/修正メモ", "重複警告"}

const (
	// DuplicateFlag marks a row that probably repeats an earlier one.
	DuplicateFlag = "重複の可能性あり"

	// DerivedFormula multiplies the amount and ratio of the row it sits in.
	// It carries no row number, so it stays correct when rows move.
	DerivedFormula = "=INDEX(E:E,ROW())*INDEX(F:F,ROW())"
)

// StatusValues are the manual values accepted in the status column.
var StatusValues = []string{string(core.StatusApproved), string(core.StatusRejected)}

// Options tunes a Ledger.
type Options struct {
	Rule       core.DuplicateRule
	SortByDate bool
	Location   *time.Location
	Logger     *slog.Logger
}

// Ledger is the sheet-backed ledger store.
type Ledger struct {
	wb       sheets.Workbook
	settings sheets.SettingsReader
	rule     core.DuplicateRule
	sort     bool
	loc      *time.Location
	logger   *slog.Logger

	// mu serializes year creation and the scan-then-append sequence
	// within this process.
	mu sync.Mutex
}

var (
	_ sheets.LedgerWriter  = (*Ledger)(nil)
	_ sheets.StatusUpdater = (*Ledger)(nil)
	_ sheets.LedgerLister  = (*Ledger)(nil)
)

func New(wb sheets.Workbook, settings sheets.SettingsReader, opts Options) *Ledger {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{
		wb:       wb,
		settings: settings,
		rule:     opts.Rule,
		sort:     opts.SortByDate,
		loc:      opts.Location,
		logger:   opts.Logger,
	}
}

// SheetName returns the collection holding receipts of year.
func SheetName(year int) string {
	return strconv.Itoa(year)
}

// Append writes rec as a new row of its year collection. The derived amount
// is a live formula and the status cell is left unset.
func (l *Ledger) Append(ctx context.Context, rec core.ExtractedRecord, fileURL string) (core.LedgerRowRef, error) {
	settings, err := l.settings.Load(ctx)
	if err != nil {
		return core.LedgerRowRef{}, fmt.Errorf("load settings: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sheet := SheetName(rec.Year())
	if err := l.ensureYear(ctx, sheet, settings); err != nil {
		return core.LedgerRowRef{}, err
	}

	rows, err := l.wb.ReadRows(ctx, sheet)
	if err != nil {
		return core.LedgerRowRef{}, fmt.Errorf("read %s: %w", sheet, err)
	}
	duplicate := core.FindDuplicate(rec.Entry(), l.parseEntries(rows), l.rule)

	ratio := settings.Ratio(rec.Category)
	flag := ""
	if duplicate {
		flag = DuplicateFlag
	}
	row := []any{
		core.SourceSlack,
		core.FormatDate(rec.Date),
		CellText(rec.Payee),
		CellText(rec.Category),
		rec.Amount,
		ratio,
		DerivedFormula,
		string(core.StatusUnset),
		fileURL,
		CellText(rec.Note()),
		flag,
	}
	at, err := l.wb.AppendRows(ctx, sheet, [][]any{row})
	if err != nil {
		return core.LedgerRowRef{}, fmt.Errorf("append to %s: %w", sheet, err)
	}

	l.logger.InfoContext(ctx, "Ledger row appended",
		"sheet", sheet,
		"row", at,
		"payee", rec.Payee,
		"amount", rec.Amount,
		"category", rec.Category,
		"duplicate", duplicate)

	if l.sort {
		if err := l.wb.SortByColumn(ctx, sheet, ColDate, true); err != nil {
			l.logger.WarnContext(ctx, "Failed to sort ledger by date", "sheet", sheet, "error", err)
		}
	}

	return core.LedgerRowRef{
		SheetName:    sheet,
		EvidenceLink: fileURL,
		RowKey:       fileURL,
		Ratio:        ratio,
		Duplicate:    duplicate,
	}, nil
}

// SetStatus finds the row whose evidence link equals evidenceLink and writes
// status into it.
func (l *Ledger) SetStatus(ctx context.Context, sheetName, evidenceLink string, status core.ApprovalStatus) error {
	rows, err := l.wb.ReadRows(ctx, sheetName)
	if err != nil {
		return fmt.Errorf("read %s: %w", sheetName, err)
	}
	for i := 1; i < len(rows); i++ {
		if cell(rows[i], ColEvidence) != evidenceLink {
			continue
		}
		if err := l.wb.UpdateCell(ctx, sheetName, i+1, ColStatus, string(status)); err != nil {
			return fmt.Errorf("update status in %s: %w", sheetName, err)
		}
		l.logger.InfoContext(ctx, "Ledger status updated", "sheet", sheetName, "row", i+1, "status", string(status))
		return nil
	}
	return fmt.Errorf("%w: %s in %s", core.ErrRowNotFound, evidenceLink, sheetName)
}

// Entries returns every data row of the year collection.
func (l *Ledger) Entries(ctx context.Context, year int) ([]core.LedgerEntry, error) {
	rows, err := l.wb.ReadRows(ctx, SheetName(year))
	if err != nil {
		if errors.Is(err, core.ErrSheetNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return l.parseEntries(rows), nil
}

func (l *Ledger) ensureYear(ctx context.Context, sheet string, settings core.Settings) error {
	created, err := l.wb.EnsureSheet(ctx, sheet)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", sheet, err)
	}
	if !created {
		return nil
	}
	if _, err := l.wb.AppendRows(ctx, sheet, [][]any{Headers}); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	if err := l.wb.FreezeHeader(ctx, sheet); err != nil {
		return fmt.Errorf("freeze %s header: %w", sheet, err)
	}
	if len(settings.Categories) > 0 {
		if err := l.wb.SetValidation(ctx, sheet, ColCategory, settings.Categories, false); err != nil {
			return fmt.Errorf("category validation on %s: %w", sheet, err)
		}
	}
	if err := l.wb.SetValidation(ctx, sheet, ColStatus, StatusValues, true); err != nil {
		return fmt.Errorf("status validation on %s: %w", sheet, err)
	}
	l.logger.InfoContext(ctx, "Ledger year created", "sheet", sheet)
	return nil
}

func (l *Ledger) parseEntries(rows [][]string) []core.LedgerEntry {
	if len(rows) < 2 {
		return nil
	}
	out := make([]core.LedgerEntry, 0, len(rows)-1)
	for _, r := range rows[1:] {
		date, _ := core.ParseDate(cell(r, ColDate), l.loc)
		amount, _ := core.ParseAmount(cell(r, ColAmount))
		ratio, ok := core.ParseRatio(cell(r, ColRatio))
		if !ok {
			ratio = core.DefaultRatio
		}
		out = append(out, core.LedgerEntry{
			Date:         date,
			Payee:        cell(r, ColPayee),
			Category:     cell(r, ColCategory),
			Amount:       amount,
			Ratio:        ratio,
			Status:       core.ApprovalStatus(cell(r, ColStatus)),
			EvidenceLink: cell(r, ColEvidence),
		})
	}
	return out
}

// CellText keeps user-entered text from being read as a formula. A lone
// "-" is the rejected status and stays as is.
func CellText(s string) string {
	if s == "" || s == "-" {
		return s
	}
	switch s[0] {
	case '=', '+', '@', '-':
		return "'" + s
	}
	return s
}

func cell(row []string, col int) string {
	if col < 1 || col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}
