package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"receipts/internal/core"
	ports "receipts/internal/sheets"
)

// Workbook is an in-process sheets.Workbook for local runs and tests.
// Products of cell references and SUM/SUMIFS aggregates over whole columns
// are evaluated on read; any other formula is returned as written.
type Workbook struct {
	mu     sync.Mutex
	sheets map[string]*sheet
	order  []string
	fail   map[string]error
}

type sheet struct {
	rows       [][]any
	frozen     bool
	validation map[int]Validation
}

// Validation is a recorded data validation rule.
type Validation struct {
	Values []string
	Strict bool
}

var _ ports.Workbook = (*Workbook)(nil)

func New() *Workbook {
	return &Workbook{
		sheets: make(map[string]*sheet),
		fail:   make(map[string]error),
	}
}

// FailOn makes every later call of the named method return err. A nil err
// clears the failure.
func (w *Workbook) FailOn(method string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.fail, method)
		return
	}
	w.fail[method] = err
}

func (w *Workbook) EnsureSheet(_ context.Context, name string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail["EnsureSheet"]; err != nil {
		return false, err
	}
	if _, ok := w.sheets[name]; ok {
		return false, nil
	}
	w.sheets[name] = &sheet{validation: make(map[int]Validation)}
	w.order = append(w.order, name)
	return true, nil
}

func (w *Workbook) ReadRows(_ context.Context, name string) ([][]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail["ReadRows"]; err != nil {
		return nil, err
	}
	s, err := w.get(name)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(s.rows))
	for r, row := range s.rows {
		out[r] = make([]string, len(row))
		for c := range row {
			out[r][c] = w.eval(s, r, c, 0)
		}
	}
	return out, nil
}

func (w *Workbook) AppendRows(_ context.Context, name string, rows [][]any) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail["AppendRows"]; err != nil {
		return 0, err
	}
	s, err := w.get(name)
	if err != nil {
		return 0, err
	}
	// Append lands after the last non-empty row.
	last := len(s.rows)
	for last > 0 && isBlank(s.rows[last-1]) {
		last--
	}
	s.rows = s.rows[:last]
	for _, r := range rows {
		s.rows = append(s.rows, slices.Clone(r))
	}
	return last + 1, nil
}

func (w *Workbook) UpdateCell(_ context.Context, name string, row, col int, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail["UpdateCell"]; err != nil {
		return err
	}
	s, err := w.get(name)
	if err != nil {
		return err
	}
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell %d,%d", row, col)
	}
	for len(s.rows) < row {
		s.rows = append(s.rows, nil)
	}
	for len(s.rows[row-1]) < col {
		s.rows[row-1] = append(s.rows[row-1], "")
	}
	s.rows[row-1][col-1] = value
	return nil
}

func (w *Workbook) InsertRows(_ context.Context, name string, at int, rows [][]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail["InsertRows"]; err != nil {
		return err
	}
	s, err := w.get(name)
	if err != nil {
		return err
	}
	if at < 1 || at > len(s.rows)+1 {
		return fmt.Errorf("insert position %d out of range", at)
	}
	cloned := make([][]any, len(rows))
	for i, r := range rows {
		cloned[i] = slices.Clone(r)
	}
	s.rows = slices.Insert(s.rows, at-1, cloned...)
	return nil
}

func (w *Workbook) FreezeHeader(_ context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.get(name)
	if err != nil {
		return err
	}
	s.frozen = true
	return nil
}

func (w *Workbook) SetValidation(_ context.Context, name string, col int, values []string, strict bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.get(name)
	if err != nil {
		return err
	}
	s.validation[col] = Validation{Values: slices.Clone(values), Strict: strict}
	return nil
}

func (w *Workbook) SortByColumn(_ context.Context, name string, col int, ascending bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail["SortByColumn"]; err != nil {
		return err
	}
	s, err := w.get(name)
	if err != nil {
		return err
	}
	if len(s.rows) < 3 {
		return nil
	}
	data := s.rows[1:]
	sort.SliceStable(data, func(i, j int) bool {
		a, b := cellString(data[i], col-1), cellString(data[j], col-1)
		if ascending {
			return a < b
		}
		return a > b
	})
	return nil
}

// Sheets returns the collection names in creation order.
func (w *Workbook) Sheets() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.order)
}

// Formula returns the raw content of a cell as written.
func (w *Workbook) Formula(name string, row, col int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sheets[name]
	if !ok || row < 1 || row > len(s.rows) {
		return ""
	}
	return cellString(s.rows[row-1], col-1)
}

// Frozen reports whether the header of the collection is pinned.
func (w *Workbook) Frozen(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sheets[name]
	return ok && s.frozen
}

// ValidationOf returns the rule recorded for col.
func (w *Workbook) ValidationOf(name string, col int) (Validation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sheets[name]
	if !ok {
		return Validation{}, false
	}
	v, ok := s.validation[col]
	return v, ok
}

func (w *Workbook) get(name string) (*sheet, error) {
	s, ok := w.sheets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSheetNotFound, name)
	}
	return s, nil
}

func cellString(row []any, c int) string {
	if c < 0 || c >= len(row) || row[c] == nil {
		return ""
	}
	switch v := row[c].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func isBlank(row []any) bool {
	for i := range row {
		if cellString(row, i) != "" {
			return false
		}
	}
	return true
}
