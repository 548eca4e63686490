package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"receipts/internal/amqp"
	"receipts/internal/cache"
	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/services"
	"receipts/internal/sheets"
)

// ReceiptWorker runs queued receipt jobs through the pipeline.
type ReceiptWorker struct {
	processor services.Processor
	audit     sheets.AuditLogger
	seen      *cache.Dedup
	now       func() time.Time
	logger    *slog.Logger
}

// NewReceiptWorker creates a worker. seen may be nil; when set, a job
// redelivered for the same event and file is skipped.
func NewReceiptWorker(processor services.Processor, audit sheets.AuditLogger, seen *cache.Dedup, logger *slog.Logger) *ReceiptWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptWorker{
		processor: processor,
		audit:     audit,
		seen:      seen,
		now:       time.Now,
		logger:    logger,
	}
}

// HandleReceiptJob processes one job. Failures are written to the error log
// and returned; the consumer acks either way so a retry cannot append a
// second ledger row.
func (w *ReceiptWorker) HandleReceiptJob(ctx context.Context, job *amqp.ReceiptJob) (err error) {
	ctx = log.NewContext(ctx, log.FieldEventID, job.EventID, log.FieldChannel, job.Channel)
	logger := log.FromContext(ctx, w.logger).With(log.FieldFileName, job.Attachment.Name)

	if w.seen != nil && !w.seen.MarkIfNew(job.EventID+"/"+job.Attachment.ID) {
		logger.InfoContext(ctx, "Redelivered receipt job skipped")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Panic while processing receipt job", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
			w.recordError(ctx, job, err, log.OpDispatch)
		}
	}()

	logger.InfoContext(ctx, "Processing receipt job", "queued_for", w.now().Sub(job.Timestamp).Round(time.Millisecond))

	if _, err := w.processor.Process(ctx, job.Channel, job.Attachment); err != nil {
		w.recordError(ctx, job, err, services.StageOf(err))
		return fmt.Errorf("process receipt %s: %w", job.Attachment.ID, err)
	}
	return nil
}

func (w *ReceiptWorker) recordError(ctx context.Context, job *amqp.ReceiptJob, err error, stage string) {
	if w.audit == nil {
		return
	}
	entry := core.ErrorEntry{
		Time:    w.now(),
		Message: err.Error(),
		Stage:   stage,
		Event:   string(job.Event),
	}
	if lerr := w.audit.LogError(ctx, entry); lerr != nil {
		log.FromContext(ctx, w.logger).ErrorContext(ctx, "Failed to write error log", log.FieldError, lerr)
	}
}
