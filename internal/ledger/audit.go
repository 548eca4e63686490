package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"receipts/internal/core"
	"receipts/internal/sheets"
)

const (
	RequestDumpSheet = "System_RequestDump"
	ErrorLogSheet    = "System_ErrorLog"

	// maxCellRunes stays under the spreadsheet per-cell character limit.
	maxCellRunes = 49000

	auditTimeLayout = "2006/01/02 15:04:05"
)

var (
	requestDumpHeaders = []any{"日時", "生データ全文(JSON)"}
	errorLogHeaders    = []any{"発生日時", "エラー内容", "処理段階", "イベント内容(JSON)"}
)

// Audit writes the raw request dump and the error log collections.
type Audit struct {
	wb  sheets.Workbook
	loc *time.Location

	mu    sync.Mutex
	ready map[string]bool
}

var _ sheets.AuditLogger = (*Audit)(nil)

func NewAudit(wb sheets.Workbook, loc *time.Location) *Audit {
	if loc == nil {
		loc = time.UTC
	}
	return &Audit{wb: wb, loc: loc, ready: make(map[string]bool)}
}

func (a *Audit) DumpRequest(ctx context.Context, at time.Time, raw string) error {
	return a.write(ctx, RequestDumpSheet, requestDumpHeaders, []any{
		at.In(a.loc).Format(auditTimeLayout),
		CellText(truncate(raw)),
	})
}

func (a *Audit) LogError(ctx context.Context, e core.ErrorEntry) error {
	return a.write(ctx, ErrorLogSheet, errorLogHeaders, []any{
		e.Time.In(a.loc).Format(auditTimeLayout),
		CellText(truncate(e.Message)),
		CellText(e.Stage),
		CellText(truncate(e.Event)),
	})
}

func (a *Audit) write(ctx context.Context, sheet string, headers, row []any) error {
	if err := a.ensure(ctx, sheet, headers); err != nil {
		return err
	}
	if _, err := a.wb.AppendRows(ctx, sheet, [][]any{row}); err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return nil
}

func (a *Audit) ensure(ctx context.Context, sheet string, headers []any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready[sheet] {
		return nil
	}
	created, err := a.wb.EnsureSheet(ctx, sheet)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", sheet, err)
	}
	if created {
		if _, err := a.wb.AppendRows(ctx, sheet, [][]any{headers}); err != nil {
			return fmt.Errorf("write %s header: %w", sheet, err)
		}
	}
	a.ready[sheet] = true
	return nil
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxCellRunes {
		return s
	}
	return string(r[:maxCellRunes])
}
