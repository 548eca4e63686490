package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"receipts/internal/amqp"
	"receipts/internal/cache"
	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/sheets"
	"receipts/internal/slack"
)

// Accepted is the reply to every delivery except a verification handshake.
const Accepted = "OK"

type (
	Processor interface {
		Process(ctx context.Context, channel string, att core.Attachment) (ReceiptResult, error)
	}

	// Publisher hands attachments to the asynchronous worker.
	Publisher interface {
		PublishReceiptJob(ctx context.Context, job *amqp.ReceiptJob) error
	}
)

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Dedup     *cache.Dedup
	Processor Processor
	// Publisher, when set, queues attachments instead of processing them inline.
	Publisher     Publisher
	Audit         sheets.AuditLogger
	TargetChannel string
	Now           func() time.Time
	Logger        *slog.Logger
}

// Dispatcher turns Events API deliveries into per-attachment pipeline runs.
type Dispatcher struct {
	DispatcherConfig
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{DispatcherConfig: cfg}
}

// Dispatch handles one delivery and returns the body to reply with: the
// challenge for a verification handshake, Accepted otherwise. Failures never
// reach the caller; they go to the log and the error log.
func (d *Dispatcher) Dispatch(ctx context.Context, env slack.EventEnvelope) string {
	if env.Type == slack.TypeURLVerification {
		return env.Challenge()
	}
	ev, ok := env.InboundEvent()
	if !ok {
		return Accepted
	}
	ctx = log.NewContext(ctx, log.FieldEventID, ev.ID, log.FieldChannel, ev.Channel)
	logger := log.FromContext(ctx, d.Logger)

	// Recorded before any work so a concurrent redelivery backs off.
	if d.Dedup != nil && !d.Dedup.MarkIfNew(ev.ID) {
		logger.InfoContext(ctx, "Duplicate delivery ignored")
		return Accepted
	}

	switch {
	case ev.FromBot:
		return Accepted
	case d.TargetChannel != "" && ev.Channel != d.TargetChannel:
		logger.DebugContext(ctx, "Event outside target channel ignored")
		return Accepted
	case ev.Type != slack.EventMessage || len(ev.Attachments) == 0:
		return Accepted
	}

	eventJSON, _ := json.Marshal(env.InnerEvent.Data)
	for _, att := range ev.Attachments {
		if att.Kind() == core.KindUnsupported {
			logger.DebugContext(ctx, "Unsupported attachment skipped", log.FieldFileName, att.Name, log.FieldMIMEType, att.MIMEType)
			continue
		}
		d.handle(ctx, ev, att, eventJSON)
	}
	return Accepted
}

// handle runs one attachment inside its own failure boundary.
func (d *Dispatcher) handle(ctx context.Context, ev core.InboundEvent, att core.Attachment, eventJSON []byte) {
	stage := log.OpDispatch
	logger := log.FromContext(ctx, d.Logger).With(log.FieldFileName, att.Name)
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Panic while processing attachment",
				"panic", r,
				"stack", string(debug.Stack()))
			d.recordError(ctx, fmt.Errorf("panic: %v", r), stage, eventJSON)
		}
	}()

	if d.Publisher != nil {
		stage = log.OpEnqueue
		job := amqp.NewReceiptJob(ev.ID, ev.Channel, att, eventJSON)
		if err := d.Publisher.PublishReceiptJob(ctx, job); err != nil {
			logger.ErrorContext(ctx, "Failed to enqueue receipt", log.FieldError, err)
			d.recordError(ctx, err, stage, eventJSON)
		}
		return
	}

	if _, err := d.Processor.Process(ctx, ev.Channel, att); err != nil {
		logger.ErrorContext(ctx, "Failed to process receipt",
			log.FieldStage, StageOf(err),
			log.FieldError, err)
		d.recordError(ctx, err, StageOf(err), eventJSON)
	}
}

// recordError appends to the error log; a failure there is only logged.
func (d *Dispatcher) recordError(ctx context.Context, err error, stage string, eventJSON []byte) {
	if d.Audit == nil {
		return
	}
	entry := core.ErrorEntry{
		Time:    d.Now(),
		Message: err.Error(),
		Stage:   stage,
		Event:   string(eventJSON),
	}
	if lerr := d.Audit.LogError(ctx, entry); lerr != nil {
		log.FromContext(ctx, d.Logger).ErrorContext(ctx, "Failed to write error log", log.FieldError, lerr)
	}
}
