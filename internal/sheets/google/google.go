package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"receipts/internal/core"
	ports "receipts/internal/sheets"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Workbook implements sheets.Workbook on top of the Sheets v4 API.
type Workbook struct {
	svc           *gsheet.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// Ensure interface conformance
var _ ports.Workbook = (*Workbook)(nil)

// New creates a workbook client for spreadsheetID. credentialsJSON is a
// service account key; when empty, opts must carry authentication.
func New(ctx context.Context, spreadsheetID string, credentialsJSON []byte, opts ...goption.ClientOption) (*Workbook, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, credentialsJSON, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Workbook{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, credentialsJSON []byte, opts ...goption.ClientOption) (*gsheet.Service, error) {
	var all []goption.ClientOption
	if len(credentialsJSON) > 0 {
		slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
			"credentials_size", len(credentialsJSON),
			"scope", gsheet.SpreadsheetsScope)
		all = append(all,
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}
	all = append(all, opts...)

	service, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (w *Workbook) EnsureSheet(ctx context.Context, name string) (bool, error) {
	if _, err := w.sheetID(ctx, name); err == nil {
		return false, nil
	} else if !errors.Is(err, core.ErrSheetNotFound) {
		return false, err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: name}},
	}}}
	resp, err := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		// Lost a creation race with another instance.
		if isAlreadyExists(err) {
			w.forget()
			return false, nil
		}
		return false, fmt.Errorf("add sheet %s: %w", name, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		w.sheetIDs[name] = resp.Replies[0].AddSheet.Properties.SheetId
	} else {
		w.sheetIDs = make(map[string]int64)
	}
	slog.InfoContext(ctx, "Sheet created", "sheet", name)
	return true, nil
}

func (w *Workbook) ReadRows(ctx context.Context, sheet string) ([][]string, error) {
	if _, err := w.sheetID(ctx, sheet); err != nil {
		return nil, err
	}
	rng := quoteSheet(sheet)
	resp, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		out[i] = toStrings(row)
	}
	return out, nil
}

func (w *Workbook) AppendRows(ctx context.Context, sheet string, rows [][]any) (int, error) {
	rng := quoteSheet(sheet) + "!A1"
	resp, err := w.svc.Spreadsheets.Values.Append(w.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", sheet, err)
	}
	if resp.Updates == nil {
		return 0, fmt.Errorf("append to %s: response carries no updated range", sheet)
	}
	row, err := parseUpdatedRow(resp.Updates.UpdatedRange)
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", sheet, err)
	}
	return row, nil
}

func (w *Workbook) UpdateCell(ctx context.Context, sheet string, row, col int, value any) error {
	rng := fmt.Sprintf("%s!%s%d", quoteSheet(sheet), colLetter(col), row)
	_, err := w.svc.Spreadsheets.Values.Update(w.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{{value}}}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (w *Workbook) InsertRows(ctx context.Context, sheet string, at int, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	id, err := w.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	insert := &gsheet.Request{InsertDimension: &gsheet.InsertDimensionRequest{
		Range: &gsheet.DimensionRange{
			SheetId:    id,
			Dimension:  "ROWS",
			StartIndex: int64(at - 1),
			EndIndex:   int64(at - 1 + len(rows)),
		},
		InheritFromBefore: at > 2,
	}}
	if err := w.batch(ctx, insert); err != nil {
		return fmt.Errorf("insert rows into %s: %w", sheet, err)
	}

	rng := fmt.Sprintf("%s!A%d", quoteSheet(sheet), at)
	_, err = w.svc.Spreadsheets.Values.Update(w.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write inserted rows %s: %w", rng, err)
	}
	return nil
}

func (w *Workbook) FreezeHeader(ctx context.Context, sheet string) error {
	id, err := w.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &gsheet.Request{UpdateSheetProperties: &gsheet.UpdateSheetPropertiesRequest{
		Properties: &gsheet.SheetProperties{
			SheetId:        id,
			GridProperties: &gsheet.GridProperties{FrozenRowCount: 1},
		},
		Fields: "gridProperties.frozenRowCount",
	}}
	if err := w.batch(ctx, req); err != nil {
		return fmt.Errorf("freeze header of %s: %w", sheet, err)
	}
	return nil
}

func (w *Workbook) SetValidation(ctx context.Context, sheet string, col int, values []string, strict bool) error {
	id, err := w.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	conds := make([]*gsheet.ConditionValue, 0, len(values))
	for _, v := range values {
		conds = append(conds, &gsheet.ConditionValue{UserEnteredValue: v})
	}
	req := &gsheet.Request{SetDataValidation: &gsheet.SetDataValidationRequest{
		Range: &gsheet.GridRange{
			SheetId:          id,
			StartRowIndex:    1,
			StartColumnIndex: int64(col - 1),
			EndColumnIndex:   int64(col),
		},
		Rule: &gsheet.DataValidationRule{
			Condition:    &gsheet.BooleanCondition{Type: "ONE_OF_LIST", Values: conds},
			Strict:       strict,
			ShowCustomUi: true,
		},
	}}
	if err := w.batch(ctx, req); err != nil {
		return fmt.Errorf("set validation on %s column %s: %w", sheet, colLetter(col), err)
	}
	return nil
}

func (w *Workbook) SortByColumn(ctx context.Context, sheet string, col int, ascending bool) error {
	id, err := w.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	order := "ASCENDING"
	if !ascending {
		order = "DESCENDING"
	}
	req := &gsheet.Request{SortRange: &gsheet.SortRangeRequest{
		Range:     &gsheet.GridRange{SheetId: id, StartRowIndex: 1},
		SortSpecs: []*gsheet.SortSpec{{DimensionIndex: int64(col - 1), SortOrder: order}},
	}}
	if err := w.batch(ctx, req); err != nil {
		return fmt.Errorf("sort %s: %w", sheet, err)
	}
	return nil
}

func (w *Workbook) batch(ctx context.Context, reqs ...*gsheet.Request) error {
	_, err := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{Requests: reqs}).
		Context(ctx).Do()
	return err
}

// sheetID resolves a sheet title to its numeric id, refreshing the cached
// spreadsheet metadata on a miss.
func (w *Workbook) sheetID(ctx context.Context, name string) (int64, error) {
	w.mu.Lock()
	id, ok := w.sheetIDs[name]
	w.mu.Unlock()
	if ok {
		return id, nil
	}

	ss, err := w.svc.Spreadsheets.Get(w.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet metadata: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.sheetIDs = make(map[string]int64, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		w.sheetIDs[s.Properties.Title] = s.Properties.SheetId
	}
	if id, ok := w.sheetIDs[name]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s", core.ErrSheetNotFound, name)
}

func (w *Workbook) forget() {
	w.mu.Lock()
	w.sheetIDs = make(map[string]int64)
	w.mu.Unlock()
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
		return strings.Contains(strings.ToLower(gerr.Message), "already exists")
	}
	return false
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		switch n := v.(type) {
		case float64:
			out[i] = strconv.FormatFloat(n, 'f', -1, 64)
		default:
			out[i] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return out
}

// quoteSheet renders a sheet title for A1 notation. Titles made of digits,
// such as year sheets, must be quoted.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// colLetter converts a 1-based column index to its A1 letters.
func colLetter(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// parseUpdatedRow extracts the first row number from a range such as
// "'2026'!A5:K5".
func parseUpdatedRow(rng string) (int, error) {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[i+1:]
	}
	if i := strings.Index(rng, ":"); i >= 0 {
		rng = rng[:i]
	}
	digits := strings.TrimLeft(rng, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	row, err := strconv.Atoi(digits)
	if err != nil || row < 1 {
		return 0, fmt.Errorf("unexpected updated range %q", rng)
	}
	return row, nil
}
