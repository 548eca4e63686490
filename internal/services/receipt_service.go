package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"receipts/internal/core"
	"receipts/internal/filestore"
	"receipts/internal/log"
	"receipts/internal/sheets"
)

// Collaborators of the receipt pipeline.
type (
	Downloader interface {
		Download(ctx context.Context, url string) ([]byte, error)
	}

	Structurer interface {
		Structure(ctx context.Context, rawText string, categories []string) core.ExtractedRecord
	}

	Notifier interface {
		Notify(ctx context.Context, channel string, rec core.ExtractedRecord, ref core.LedgerRowRef, ratio float64) error
	}
)

// StageError tags a pipeline failure with the step that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the failing stage recorded in err, or "unknown".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}

// ReceiptDeps wires a ReceiptService.
type ReceiptDeps struct {
	Downloader Downloader
	Files      filestore.Store
	OCR        filestore.Recognizer
	Extractor  Structurer
	Settings   sheets.SettingsReader
	Ledger     sheets.LedgerWriter
	Summary    sheets.SummaryMaintainer
	Notifier   Notifier
	// Audit receives the non-fatal failures: degraded extractions and
	// summary reconcile errors. Nil leaves them in the log only.
	Audit sheets.AuditLogger
	// PDFText reads the embedded text layer of PDFs; nil sends every file to OCR.
	PDFText func(body []byte) (string, error)
	Now     func() time.Time
	Logger  *slog.Logger
}

// ReceiptResult is the outcome of one processed attachment.
type ReceiptResult struct {
	File   filestore.StoredFile
	Record core.ExtractedRecord
	Ref    core.LedgerRowRef
}

// ReceiptService runs the per-attachment pipeline.
type ReceiptService struct {
	ReceiptDeps
}

func NewReceiptService(d ReceiptDeps) *ReceiptService {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &ReceiptService{ReceiptDeps: d}
}

// Process downloads, stores, reads and records one attachment, then posts
// the approval request. Summary and notification failures are logged but
// do not fail the attachment: the ledger row already exists.
func (s *ReceiptService) Process(ctx context.Context, channel string, att core.Attachment) (ReceiptResult, error) {
	logger := log.FromContext(ctx, s.Logger).With(log.FieldFileName, att.Name, log.FieldMIMEType, att.MIMEType)

	body, err := s.Downloader.Download(ctx, att.DownloadURL)
	if err != nil {
		return ReceiptResult{}, stageErr(log.OpDownload, err)
	}

	file, err := s.Files.Store(ctx, att, body)
	if err != nil {
		return ReceiptResult{}, stageErr(log.OpStore, err)
	}

	rawText, err := s.readText(ctx, att, file, body)
	if err != nil {
		return ReceiptResult{File: file}, stageErr(log.OpOCR, err)
	}

	settings, err := s.Settings.Load(ctx)
	if err != nil {
		return ReceiptResult{File: file}, stageErr(log.OpExtract, fmt.Errorf("load settings: %w", err))
	}

	rec := s.Extractor.Structure(ctx, rawText, settings.Categories)
	if rec.Failed {
		logger.WarnContext(ctx, "Extraction degraded, recording placeholder", log.FieldAmount, rec.Amount, log.FieldError, rec.FailureReason)
		s.recordError(ctx, logger, log.OpExtract, "extraction degraded: "+rec.FailureReason, channel, att)
	}

	ref, err := s.Ledger.Append(ctx, rec, file.URL)
	if err != nil {
		return ReceiptResult{File: file, Record: rec}, stageErr(log.OpAppend, err)
	}
	result := ReceiptResult{File: file, Record: rec, Ref: ref}

	if s.Summary != nil {
		if err := s.Summary.Reconcile(ctx, rec.Year(), settings); err != nil {
			logger.ErrorContext(ctx, "Summary reconcile failed", log.FieldYear, rec.Year(), log.FieldError, err)
			s.recordError(ctx, logger, log.OpReconcile, fmt.Sprintf("reconcile %d: %v", rec.Year(), err), channel, att)
		}
	}

	if s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, channel, rec, ref, ref.Ratio); err != nil {
			return result, stageErr(log.OpNotify, err)
		}
	}

	fields := log.NewFields().
		WithReceipt(rec.Payee, rec.Amount, rec.Category).
		WithOperation(log.OpAppend)
	fields[log.FieldSheet] = ref.SheetName
	fields[log.FieldEvidenceLink] = ref.EvidenceLink
	fields[log.FieldDuplicate] = ref.Duplicate
	logger.InfoContext(ctx, "Receipt processed", fields.ToSlice()...)
	return result, nil
}

// readText prefers the embedded text of PDFs and falls back to OCR. A file
// in which OCR finds nothing still gets a ledger row, with empty raw text.
func (s *ReceiptService) readText(ctx context.Context, att core.Attachment, file filestore.StoredFile, body []byte) (string, error) {
	if att.Kind() == core.KindPDF && s.PDFText != nil {
		text, err := s.PDFText(body)
		if err == nil {
			return text, nil
		}
		s.Logger.DebugContext(ctx, "No embedded PDF text, using OCR", log.FieldFileName, att.Name, log.FieldError, err)
	}

	text, err := s.OCR.Recognize(ctx, file, body)
	if errors.Is(err, filestore.ErrNoText) {
		s.Logger.WarnContext(ctx, "OCR found no text", log.FieldFileName, file.Name)
		return "", nil
	}
	return text, err
}

// recordError writes an error log row for a failure that does not stop the
// attachment. The event column carries the attachment and the delivery
// attributes from ctx.
func (s *ReceiptService) recordError(ctx context.Context, logger *slog.Logger, stage, msg, channel string, att core.Attachment) {
	if s.Audit == nil {
		return
	}
	event := log.Fields(ctx)
	event[log.FieldChannel] = channel
	event["attachment"] = att
	eventJSON, _ := json.Marshal(event)
	entry := core.ErrorEntry{Time: s.Now(), Message: msg, Stage: stage, Event: string(eventJSON)}
	if err := s.Audit.LogError(ctx, entry); err != nil {
		logger.ErrorContext(ctx, "Failed to write error log", log.FieldError, err)
	}
}
