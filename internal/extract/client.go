package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"receipts/internal/core"
)

// Options tunes a Client.
type Options struct {
	// Now supplies the processing time; its location is the ledger time zone.
	Now    func() time.Time
	Logger *slog.Logger
}

// Client structures OCR text into receipt records.
type Client struct {
	provider Provider
	models   *ModelSelector
	now      func() time.Time
	logger   *slog.Logger
}

// NewClient creates a Client.
func NewClient(p Provider, models *ModelSelector, opts Options) *Client {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{provider: p, models: models, now: opts.Now, logger: opts.Logger}
}

type modelRecord struct {
	Date     string          `json:"date"`
	Payee    string          `json:"payee"`
	Amount   json.RawMessage `json:"amount"`
	Category string          `json:"category"`
}

// Structure extracts a record from rawText. It never fails: when the model
// is unreachable or replies with garbage, a record flagged Failed is
// returned, carrying any yen amount found directly in the text.
func (c *Client) Structure(ctx context.Context, rawText string, categories []string) core.ExtractedRecord {
	today := core.Day(c.now())

	model, err := c.models.Select(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Model discovery failed, using fallback", "model", model, "error", err)
	}

	reply, err := c.provider.Generate(ctx, model, BuildPrompt(rawText, categories), nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "Extraction model unreachable", "model", model, "error", err)
		return degraded(rawText, today, fmt.Errorf("model %s: %w", model, err))
	}

	rec, err := parseRecord(reply, rawText, categories, today)
	if err != nil {
		c.logger.ErrorContext(ctx, "Extraction reply not usable", "model", model, "error", err)
		return degraded(rawText, today, fmt.Errorf("model %s: %w", model, err))
	}
	c.logger.InfoContext(ctx, "Receipt structured",
		"model", model,
		"payee", rec.Payee,
		"amount", rec.Amount,
		"category", rec.Category)
	return rec
}

func parseRecord(reply, rawText string, categories []string, today time.Time) (core.ExtractedRecord, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(CleanModelJSON(reply)))
	if err := dec.Decode(&fields); err != nil {
		return core.ExtractedRecord{}, fmt.Errorf("decode model json: %w", err)
	}
	if !hasRecordField(fields) {
		return core.ExtractedRecord{}, errNoRecordFields
	}
	var m modelRecord
	m.Amount = fields["amount"]
	for key, dst := range map[string]*string{"date": &m.Date, "payee": &m.Payee, "category": &m.Category} {
		if raw, ok := fields[key]; ok {
			// Non-string values leave the field empty and take its default.
			_ = json.Unmarshal(raw, dst)
		}
	}

	rec := core.ExtractedRecord{
		Date:     today,
		Payee:    strings.TrimSpace(m.Payee),
		Amount:   parseModelAmount(m.Amount),
		Category: core.NormalizeCategory(m.Category, categories),
		RawText:  rawText,
	}
	if rec.Payee == "" {
		rec.Payee = core.PayeeUnknown
	}
	if d, ok := core.ParseDate(m.Date, today.Location()); ok {
		rec.Date = d
	}
	return rec, nil
}

var errNoRecordFields = errors.New("model json has none of date, payee, amount, category")

// hasRecordField reports whether the reply carries at least one non-null
// record key. A null or empty object is not a record.
func hasRecordField(fields map[string]json.RawMessage) bool {
	for _, key := range []string{"date", "payee", "amount", "category"} {
		if raw, ok := fields[key]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return true
		}
	}
	return false
}

// parseModelAmount accepts a JSON integer or a numeric string, else 0.
func parseModelAmount(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		v, _ := core.AmountFromNumber(f)
		return v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, _ := core.ParseAmount(s)
		return v
	}
	return 0
}

func degraded(rawText string, today time.Time, cause error) core.ExtractedRecord {
	amount, _ := core.FindYenAmount(rawText)
	return core.ExtractedRecord{
		Date:          today,
		Payee:         core.PayeeExtractionError,
		Amount:        amount,
		Category:      core.CategoryUncategorized,
		RawText:       rawText,
		Failed:        true,
		FailureReason: cause.Error(),
	}
}
