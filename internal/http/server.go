package http

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/middleware/ratelimit"
	"receipts/internal/middleware/security"
	"receipts/internal/middleware/trace"
	"receipts/internal/sheets"
	"receipts/internal/slack"
)

// Accepted is the body of every reply except a verification challenge.
const Accepted = "OK"

// maxBodyBytes bounds a webhook body; Slack payloads are far smaller.
const maxBodyBytes = 1 << 20

type (
	EventDispatcher interface {
		Dispatch(ctx context.Context, env slack.EventEnvelope) string
	}

	InteractionHandler interface {
		Handle(ctx context.Context, p slack.InteractionPayload) error
	}

	RequestVerifier interface {
		Verify(h http.Header, body []byte) error
	}
)

// Options wires the gateway.
type Options struct {
	Addr         string
	Dispatcher   EventDispatcher
	Interactions InteractionHandler
	// Verifier checks request signatures; nil accepts unsigned requests.
	Verifier RequestVerifier
	Audit    sheets.AuditLogger
	// DumpRequests writes every verified body to the request dump.
	DumpRequests       bool
	Ready              func(ctx context.Context) error
	RateLimitPerMinute int
	Now                func() time.Time
	Logger             *slog.Logger
}

// Server is the webhook gateway.
type Server struct {
	http.Server
	opts         Options
	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	logger       *slog.Logger
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
		tracer: trace.NewMiddleware(ClientIP, opts.Logger),
	}

	mux := http.NewServeMux()
	webhook := s.limiter.Middleware(ClientIP, nil)(http.HandlerFunc(s.handleSlack))
	mux.Handle("POST /{$}", webhook)
	mux.Handle("POST /slack/events", webhook)
	mux.Handle("POST /slack/interactive", webhook)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	var handler http.Handler = mux
	handler = log.Middleware(trace.GetRequestID)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops the limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// handleSlack serves both the Events API and interactive callbacks. The
// pipeline runs before the reply is written; it is detached from the request
// context so a client disconnect cannot abort a half-written ledger row.
func (s *Server) handleSlack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx, s.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.WarnContext(ctx, "Failed to read webhook body", log.FieldError, err)
		writeText(w, http.StatusOK, Accepted)
		return
	}

	if s.opts.Verifier != nil {
		if err := s.opts.Verifier.Verify(r.Header, body); err != nil {
			logger.WarnContext(ctx, "Rejected unsigned webhook", log.FieldClientIP, ClientIP(r), log.FieldError, err)
			writeText(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	if s.opts.DumpRequests && s.opts.Audit != nil {
		if err := s.opts.Audit.DumpRequest(ctx, s.opts.Now(), string(body)); err != nil {
			logger.WarnContext(ctx, "Failed to dump request", log.FieldError, err)
		}
	}

	work := context.WithoutCancel(ctx)
	var reply string
	if isForm(r.Header.Get("Content-Type")) {
		reply = s.handleInteraction(work, logger, body)
	} else {
		reply = s.handleEvent(work, logger, body)
	}
	writeText(w, http.StatusOK, reply)
}

func (s *Server) handleEvent(ctx context.Context, logger *slog.Logger, body []byte) string {
	env, err := slack.ParseEventEnvelope(body)
	if err != nil {
		logger.WarnContext(ctx, "Unparseable event body", log.FieldOperation, log.OpParse, log.FieldError, err)
		return Accepted
	}
	if s.opts.Dispatcher == nil {
		return Accepted
	}
	return s.opts.Dispatcher.Dispatch(ctx, env)
}

func (s *Server) handleInteraction(ctx context.Context, logger *slog.Logger, body []byte) string {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		logger.WarnContext(ctx, "Unparseable form body", log.FieldOperation, log.OpParse, log.FieldError, err)
		return Accepted
	}
	raw := values.Get("payload")
	if raw == "" {
		return Accepted
	}
	p, err := slack.ParseInteraction(raw)
	if err != nil {
		logger.WarnContext(ctx, "Unparseable interaction payload", log.FieldOperation, log.OpParse, log.FieldError, err)
		return Accepted
	}
	if p.Type != slack.TypeBlockActions || s.opts.Interactions == nil {
		return Accepted
	}

	if err := s.opts.Interactions.Handle(ctx, p); err != nil {
		logger.ErrorContext(ctx, "Approval callback failed",
			log.FieldOperation, log.OpApprove,
			"user", slack.DisplayName(p.User),
			log.FieldError, err)
		s.recordError(ctx, logger, err, raw)
	}
	return Accepted
}

func (s *Server) recordError(ctx context.Context, logger *slog.Logger, err error, event string) {
	if s.opts.Audit == nil {
		return
	}
	entry := core.ErrorEntry{Time: s.opts.Now(), Message: err.Error(), Stage: log.OpApprove, Event: event}
	if lerr := s.opts.Audit.LogError(ctx, entry); lerr != nil {
		logger.ErrorContext(ctx, "Failed to write error log", log.FieldError, lerr)
	}
}

func isForm(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			writeText(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeText(w, http.StatusOK, "ready")
}
