package memory

import (
	"context"
	"errors"
	"slices"
	"testing"

	"receipts/internal/core"
)

const derived = "=INDEX(E:E,ROW())*INDEX(F:F,ROW())"

func TestWorkbook_EnsureSheet(t *testing.T) {
	wb := New()
	ctx := context.Background()

	created, err := wb.EnsureSheet(ctx, "2026")
	if err != nil || !created {
		t.Fatalf("first EnsureSheet: created=%v err=%v", created, err)
	}
	created, err = wb.EnsureSheet(ctx, "2026")
	if err != nil || created {
		t.Fatalf("second EnsureSheet: created=%v err=%v", created, err)
	}
	if got := wb.Sheets(); len(got) != 1 || got[0] != "2026" {
		t.Errorf("Sheets() = %v", got)
	}
}

func TestWorkbook_MissingSheet(t *testing.T) {
	wb := New()
	if _, err := wb.ReadRows(context.Background(), "nope"); !errors.Is(err, core.ErrSheetNotFound) {
		t.Fatalf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestWorkbook_FormulaEvaluation(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "2026")
	wb.AppendRows(ctx, "2026", [][]any{{"h1", "h2", "h3", "h4", "総額", "按分率", "経費計上額"}})

	row, err := wb.AppendRows(ctx, "2026", [][]any{{"Slack", "2026/03/01", "A", "通信費", int64(3000), 0.5, derived}})
	if err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if row != 2 {
		t.Fatalf("row = %d, want 2", row)
	}

	rows, _ := wb.ReadRows(ctx, "2026")
	if got := rows[1][6]; got != "1500" {
		t.Errorf("derived = %q, want 1500", got)
	}

	// Editing the ratio recomputes on the next read.
	if err := wb.UpdateCell(ctx, "2026", 2, 6, 1.0); err != nil {
		t.Fatalf("UpdateCell: %v", err)
	}
	rows, _ = wb.ReadRows(ctx, "2026")
	if got := rows[1][6]; got != "3000" {
		t.Errorf("derived after edit = %q, want 3000", got)
	}
	if got := wb.Formula("2026", 2, 7); got != derived {
		t.Errorf("Formula() = %q, want the written formula", got)
	}
}

func TestWorkbook_CellReferenceFormula(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "s")
	wb.AppendRows(ctx, "s", [][]any{{"", "", "", "", 1000, 0.3, "=E1*F1"}})

	rows, _ := wb.ReadRows(ctx, "s")
	if got := rows[0][6]; got != "300" {
		t.Errorf("=E1*F1 = %q, want 300", got)
	}
}

func TestWorkbook_UnsupportedFormulaReturnedVerbatim(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "s")
	formulas := []string{`=VLOOKUP(A1,B:C,2,FALSE)`, `=TODAY()`, `=SUMIFS('1999'!G:G,'1999'!H:H,"経費")`}
	wb.AppendRows(ctx, "s", [][]any{{formulas[0], formulas[1], formulas[2]}})

	rows, _ := wb.ReadRows(ctx, "s")
	for i, f := range formulas {
		if rows[0][i] != f {
			t.Errorf("got %q, want formula text %q", rows[0][i], f)
		}
	}
}

func TestWorkbook_SumIfs(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "2026")
	wb.AppendRows(ctx, "2026", [][]any{
		{"出所", "日付", "支払先", "勘定科目", "総額", "按分率", "経費計上額", "ステータス"},
		{"Slack", "2026/03/01", "A", "通信費", int64(3000), 0.5, derived, "経費"},
		{"Slack", "2026/03/31", "B", "消耗品費", int64(1000), 1.0, derived, "経費"},
		{"Slack", "2026/04/01", "C", "通信費", int64(2000), 1.0, derived, ""},
	})

	const (
		expense    = `=SUMIFS('2026'!G:G,'2026'!H:H,"経費")`
		nonExpense = `=SUM('2026'!E:E)-SUMIFS('2026'!G:G,'2026'!H:H,"経費")`
		march      = `=SUMIFS('2026'!G:G,'2026'!H:H,"経費",'2026'!B:B,">="&DATE(2026,3,1),'2026'!B:B,"<"&DATE(2026,4,1))`
		april      = `=SUMIFS('2026'!G:G,'2026'!H:H,"経費",'2026'!B:B,">="&DATE(2026,4,1),'2026'!B:B,"<"&DATE(2026,5,1))`
		telecom    = `=SUMIFS('2026'!G:G,'2026'!D:D,"通信費",'2026'!H:H,"経費")`
	)
	wb.EnsureSheet(ctx, "集計")
	wb.AppendRows(ctx, "集計", [][]any{{expense, nonExpense, march, april, telecom}})

	read := func() []string {
		t.Helper()
		rows, err := wb.ReadRows(ctx, "集計")
		if err != nil {
			t.Fatal(err)
		}
		return rows[0]
	}

	want := []string{"2500", "3500", "2500", "0", "1500"}
	if got := read(); !slices.Equal(got, want) {
		t.Fatalf("aggregates = %v, want %v", got, want)
	}

	// Approving the April row and raising the first amount both flow through.
	wb.UpdateCell(ctx, "2026", 4, 8, "経費")
	wb.UpdateCell(ctx, "2026", 2, 5, int64(5000))
	want = []string{"5500", "2500", "3500", "2000", "4500"}
	if got := read(); !slices.Equal(got, want) {
		t.Fatalf("aggregates after edits = %v, want %v", got, want)
	}
}

func TestWorkbook_SortKeepsRowRelativeFormula(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "2026")
	wb.AppendRows(ctx, "2026", [][]any{
		{"入力元", "日付"},
		{"Slack", "2026/05/01", "B", "", int64(2000), 1.0, derived},
		{"Slack", "2026/01/10", "A", "", int64(1000), 0.5, derived},
	})

	if err := wb.SortByColumn(ctx, "2026", 2, true); err != nil {
		t.Fatalf("SortByColumn: %v", err)
	}
	rows, _ := wb.ReadRows(ctx, "2026")
	if rows[0][0] != "入力元" {
		t.Fatalf("header moved: %v", rows[0])
	}
	if rows[1][2] != "A" || rows[1][6] != "500" {
		t.Errorf("first data row = %v, want A with 500", rows[1])
	}
	if rows[2][2] != "B" || rows[2][6] != "2000" {
		t.Errorf("second data row = %v, want B with 2000", rows[2])
	}
}

func TestWorkbook_InsertRows(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "s")
	wb.AppendRows(ctx, "s", [][]any{{"h"}, {"a"}, {"c"}})

	if err := wb.InsertRows(ctx, "s", 3, [][]any{{"b"}}); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	rows, _ := wb.ReadRows(ctx, "s")
	got := []string{rows[0][0], rows[1][0], rows[2][0], rows[3][0]}
	want := []string{"h", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rows = %v, want %v", got, want)
		}
	}

	if err := wb.InsertRows(ctx, "s", 9, [][]any{{"x"}}); err == nil {
		t.Error("expected out of range error")
	}
}

func TestWorkbook_FreezeAndValidation(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "2026")
	wb.FreezeHeader(ctx, "2026")
	wb.SetValidation(ctx, "2026", 8, []string{"経費", "-"}, true)

	if !wb.Frozen("2026") {
		t.Error("expected frozen header")
	}
	v, ok := wb.ValidationOf("2026", 8)
	if !ok || !v.Strict || len(v.Values) != 2 {
		t.Errorf("unexpected validation %+v ok=%v", v, ok)
	}
}

func TestWorkbook_FailOn(t *testing.T) {
	wb := New()
	ctx := context.Background()
	wb.EnsureSheet(ctx, "s")
	boom := errors.New("quota exceeded")

	wb.FailOn("AppendRows", boom)
	if _, err := wb.AppendRows(ctx, "s", [][]any{{"x"}}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	wb.FailOn("AppendRows", nil)
	if _, err := wb.AppendRows(ctx, "s", [][]any{{"x"}}); err != nil {
		t.Fatalf("expected success after clearing, got %v", err)
	}
}
