package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"receipts/internal/core"
	"receipts/internal/sheets"
)

const (
	// SummarySheet aggregates every year collection with live formulas.
	SummarySheet = "集計"

	ItemExpenseTotal    = "経費合計"
	ItemNonExpenseTotal = "経費外合計"
)

// SummaryHeaders is the header row of the summary collection.
var SummaryHeaders = func() []any {
	h := []any{"年", "項目", "年間合計"}
	for m := 1; m <= 12; m++ {
		h = append(h, fmt.Sprintf("%d月", m))
	}
	return h
}()

// Summary maintains the summary collection. Reconcile adds rows but never
// rewrites existing ones, so manual edits survive.
type Summary struct {
	wb     sheets.Workbook
	logger *slog.Logger
	mu     sync.Mutex
}

var _ sheets.SummaryMaintainer = (*Summary)(nil)

func NewSummary(wb sheets.Workbook, logger *slog.Logger) *Summary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summary{wb: wb, logger: logger}
}

// Reconcile makes sure year has a totals row pair and one row per settings
// category. A new year gets a full block appended; an existing year only
// gets its missing rows, placed directly after its block.
func (s *Summary) Reconcile(ctx context.Context, year int, settings core.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.wb.EnsureSheet(ctx, SummarySheet)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", SummarySheet, err)
	}
	if created {
		if _, err := s.wb.AppendRows(ctx, SummarySheet, [][]any{SummaryHeaders}); err != nil {
			return fmt.Errorf("write %s header: %w", SummarySheet, err)
		}
		if err := s.wb.FreezeHeader(ctx, SummarySheet); err != nil {
			s.logger.WarnContext(ctx, "Failed to freeze summary header", "error", err)
		}
	}

	rows, err := s.wb.ReadRows(ctx, SummarySheet)
	if err != nil {
		return fmt.Errorf("read %s: %w", SummarySheet, err)
	}

	yearKey := strconv.Itoa(year)
	present := make(map[string]bool)
	last := -1
	for i := 1; i < len(rows); i++ {
		if cell(rows[i], 1) != yearKey {
			continue
		}
		present[cell(rows[i], 2)] = true
		last = i
	}

	wanted := append([]string{ItemExpenseTotal, ItemNonExpenseTotal}, settings.Categories...)
	var missing [][]any
	for _, item := range wanted {
		if present[item] {
			continue
		}
		present[item] = true
		missing = append(missing, SummaryRow(year, item))
	}
	if len(missing) == 0 {
		return nil
	}

	// Block absent or last in the collection: plain append keeps it contiguous.
	if last == -1 || last == lastNonEmpty(rows) {
		if _, err := s.wb.AppendRows(ctx, SummarySheet, missing); err != nil {
			return fmt.Errorf("append summary rows for %d: %w", year, err)
		}
	} else {
		if err := s.wb.InsertRows(ctx, SummarySheet, last+2, missing); err != nil {
			return fmt.Errorf("insert summary rows for %d: %w", year, err)
		}
	}
	s.logger.InfoContext(ctx, "Summary reconciled", "year", year, "added", len(missing), "new_year", last == -1)
	return nil
}

// SummaryRow builds the row of item for year: year, label, annual total and
// twelve monthly totals, all live formulas over the year collection.
func SummaryRow(year int, item string) []any {
	row := []any{year, item, summaryFormula(year, item, 0)}
	for m := 1; m <= 12; m++ {
		row = append(row, summaryFormula(year, item, m))
	}
	return row
}

// summaryFormula returns the total of item for year, restricted to month
// when month is between 1 and 12.
func summaryFormula(year int, item string, month int) string {
	ref := func(col string) string {
		return fmt.Sprintf("%s!%s:%s", quote(SheetName(year)), col, col)
	}
	var period string
	if month >= 1 && month <= 12 {
		period = fmt.Sprintf(`,%s,">="&DATE(%d,%d,1),%s,"<"&DATE(%d,%d,1)`,
			ref("B"), year, month, ref("B"), year, month+1)
	}
	approved := fmt.Sprintf(`%s,"%s"`, ref("H"), core.StatusApproved)

	switch item {
	case ItemExpenseTotal:
		return fmt.Sprintf("=SUMIFS(%s,%s%s)", ref("G"), approved, period)
	case ItemNonExpenseTotal:
		total := fmt.Sprintf("SUM(%s)", ref("E"))
		if period != "" {
			total = fmt.Sprintf("SUMIFS(%s%s)", ref("E"), period)
		}
		return fmt.Sprintf("=%s-SUMIFS(%s,%s%s)", total, ref("G"), approved, period)
	default:
		category := strings.ReplaceAll(item, `"`, `""`)
		return fmt.Sprintf(`=SUMIFS(%s,%s,"%s",%s%s)`, ref("G"), ref("D"), category, approved, period)
	}
}

func quote(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func lastNonEmpty(rows [][]string) int {
	for i := len(rows) - 1; i >= 0; i-- {
		for _, c := range rows[i] {
			if strings.TrimSpace(c) != "" {
				return i
			}
		}
	}
	return -1
}
