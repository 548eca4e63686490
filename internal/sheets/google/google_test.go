package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"receipts/internal/core"

	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const testSpreadsheet = "sid"

// fakeSheetsAPI serves the subset of the Sheets v4 REST surface used by Workbook.
type fakeSheetsAPI struct {
	mu       sync.Mutex
	sheets   map[string]int64
	values   map[string][][]any
	batches  []*gsheet.BatchUpdateSpreadsheetRequest
	appends  []*http.Request
	updates  map[string]*gsheet.ValueRange
	metaHits int
}

func newFakeSheetsAPI() *fakeSheetsAPI {
	return &fakeSheetsAPI{
		sheets:  map[string]int64{"2026": 7},
		values:  map[string][][]any{},
		updates: map[string]*gsheet.ValueRange{},
	}
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/"+testSpreadsheet):
		f.metaHits++
		ss := &gsheet.Spreadsheet{}
		for title, id := range f.sheets {
			ss.Sheets = append(ss.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{Title: title, SheetId: id}})
		}
		_ = json.NewEncoder(w).Encode(ss)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.batches = append(f.batches, &req)
		resp := &gsheet.BatchUpdateSpreadsheetResponse{}
		for _, rq := range req.Requests {
			reply := &gsheet.Response{}
			if rq.AddSheet != nil {
				id := int64(100 + len(f.sheets))
				f.sheets[rq.AddSheet.Properties.Title] = id
				reply.AddSheet = &gsheet.AddSheetResponse{Properties: &gsheet.SheetProperties{Title: rq.AddSheet.Properties.Title, SheetId: id}}
			}
			resp.Replies = append(resp.Replies, reply)
		}
		_ = json.NewEncoder(w).Encode(resp)

	case strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(rng, ":append"):
			f.appends = append(f.appends, r)
			_ = json.NewEncoder(w).Encode(&gsheet.AppendValuesResponse{
				Updates: &gsheet.UpdateValuesResponse{UpdatedRange: "'2026'!A5:K5"},
			})
		case r.Method == http.MethodPut:
			var vr gsheet.ValueRange
			_ = json.NewDecoder(r.Body).Decode(&vr)
			f.updates[rng] = &vr
			_ = json.NewEncoder(w).Encode(&gsheet.UpdateValuesResponse{UpdatedRange: rng})
		default:
			_ = json.NewEncoder(w).Encode(&gsheet.ValueRange{Range: rng, Values: f.values[rng]})
		}

	default:
		http.NotFound(w, r)
	}
}

func newTestWorkbook(t *testing.T) (*Workbook, *fakeSheetsAPI) {
	t.Helper()
	api := newFakeSheetsAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	wb, err := New(context.Background(), testSpreadsheet, nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return wb, api
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), "  ", nil, option.WithoutAuthentication())
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestWorkbook_ReadRows(t *testing.T) {
	wb, api := newTestWorkbook(t)
	api.values["'2026'"] = [][]any{
		{"入力元", "日付", "支払先"},
		{"Slack", "2026/03/01", "コンビニ", "消耗品費", 3000.0, 0.5, 1500.0},
	}

	rows, err := wb.ReadRows(context.Background(), "2026")
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	got := rows[1]
	want := []string{"Slack", "2026/03/01", "コンビニ", "消耗品費", "3000", "0.5", "1500"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cell %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWorkbook_ReadRowsMissingSheet(t *testing.T) {
	wb, _ := newTestWorkbook(t)

	_, err := wb.ReadRows(context.Background(), "2031")
	if !errors.Is(err, core.ErrSheetNotFound) {
		t.Fatalf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestWorkbook_EnsureSheet(t *testing.T) {
	wb, api := newTestWorkbook(t)
	ctx := context.Background()

	created, err := wb.EnsureSheet(ctx, "2026")
	if err != nil || created {
		t.Fatalf("existing sheet: created=%v err=%v", created, err)
	}
	if len(api.batches) != 0 {
		t.Fatalf("existing sheet should not trigger a batch update")
	}

	created, err = wb.EnsureSheet(ctx, "設定")
	if err != nil || !created {
		t.Fatalf("new sheet: created=%v err=%v", created, err)
	}
	if len(api.batches) != 1 || api.batches[0].Requests[0].AddSheet.Properties.Title != "設定" {
		t.Fatalf("unexpected batch: %+v", api.batches)
	}

	// The new id is cached, so no metadata refresh is needed.
	hits := api.metaHits
	if err := wb.FreezeHeader(ctx, "設定"); err != nil {
		t.Fatalf("FreezeHeader: %v", err)
	}
	if api.metaHits != hits {
		t.Errorf("metadata refetched after creation")
	}
}

func TestWorkbook_AppendRows(t *testing.T) {
	wb, api := newTestWorkbook(t)

	row, err := wb.AppendRows(context.Background(), "2026", [][]any{{"Slack", "2026/03/01"}})
	if err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if row != 5 {
		t.Errorf("row = %d, want 5", row)
	}
	if len(api.appends) != 1 {
		t.Fatalf("expected one append call, got %d", len(api.appends))
	}
	q := api.appends[0].URL.Query()
	if q.Get("valueInputOption") != "USER_ENTERED" || q.Get("insertDataOption") != "INSERT_ROWS" {
		t.Errorf("unexpected query %v", q)
	}
}

func TestWorkbook_UpdateCell(t *testing.T) {
	wb, api := newTestWorkbook(t)

	if err := wb.UpdateCell(context.Background(), "2026", 3, 8, "経費"); err != nil {
		t.Fatalf("UpdateCell: %v", err)
	}
	vr, ok := api.updates["'2026'!H3"]
	if !ok {
		t.Fatalf("no update recorded for H3: %v", api.updates)
	}
	if vr.Values[0][0] != "経費" {
		t.Errorf("value = %v, want 経費", vr.Values[0][0])
	}
}

func TestWorkbook_SetValidationAndSort(t *testing.T) {
	wb, api := newTestWorkbook(t)
	ctx := context.Background()

	if err := wb.SetValidation(ctx, "2026", 8, []string{"経費", "-"}, true); err != nil {
		t.Fatalf("SetValidation: %v", err)
	}
	if err := wb.SortByColumn(ctx, "2026", 2, true); err != nil {
		t.Fatalf("SortByColumn: %v", err)
	}
	if len(api.batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(api.batches))
	}

	v := api.batches[0].Requests[0].SetDataValidation
	if v.Range.SheetId != 7 || v.Range.StartColumnIndex != 7 || v.Range.EndColumnIndex != 8 || v.Range.StartRowIndex != 1 {
		t.Errorf("unexpected validation range %+v", v.Range)
	}
	if !v.Rule.Strict || v.Rule.Condition.Type != "ONE_OF_LIST" || len(v.Rule.Condition.Values) != 2 {
		t.Errorf("unexpected validation rule %+v", v.Rule)
	}

	s := api.batches[1].Requests[0].SortRange
	if s.Range.StartRowIndex != 1 || s.SortSpecs[0].DimensionIndex != 1 || s.SortSpecs[0].SortOrder != "ASCENDING" {
		t.Errorf("unexpected sort request %+v", s)
	}
}

func TestWorkbook_InsertRows(t *testing.T) {
	wb, api := newTestWorkbook(t)

	err := wb.InsertRows(context.Background(), "2026", 6, [][]any{{"2026", "通信費"}})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	ins := api.batches[0].Requests[0].InsertDimension
	if ins.Range.StartIndex != 5 || ins.Range.EndIndex != 6 || ins.Range.Dimension != "ROWS" {
		t.Errorf("unexpected insert range %+v", ins.Range)
	}
	if _, ok := api.updates["'2026'!A6"]; !ok {
		t.Errorf("inserted values not written at A6: %v", api.updates)
	}
}

func TestColLetter(t *testing.T) {
	tests := []struct {
		col  int
		want string
	}{
		{1, "A"}, {8, "H"}, {11, "K"}, {26, "Z"}, {27, "AA"}, {52, "AZ"}, {53, "BA"}, {0, ""},
	}
	for _, tt := range tests {
		if got := colLetter(tt.col); got != tt.want {
			t.Errorf("colLetter(%d) = %q, want %q", tt.col, got, tt.want)
		}
	}
}

func TestParseUpdatedRow(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"'2026'!A5:K5", 5, false},
		{"Sheet1!A12", 12, false},
		{"A3:B3", 3, false},
		{"'2026'!A:K", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseUpdatedRow(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseUpdatedRow(%q) = %d, %v; want %d, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestQuoteSheet(t *testing.T) {
	if got := quoteSheet("2026"); got != "'2026'" {
		t.Errorf("quoteSheet(2026) = %q", got)
	}
	if got := quoteSheet("Bob's"); got != "'Bob''s'" {
		t.Errorf("quoteSheet(Bob's) = %q", got)
	}
}
