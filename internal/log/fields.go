package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldStage        = "stage"
	FieldYear         = "year"
	FieldEventID      = "event_id"
	FieldChannel      = "channel"
	FieldFileName     = "file_name"
	FieldMIMEType     = "mime_type"
	FieldPayee        = "payee"
	FieldAmount       = "amount"
	FieldCategory     = "category"
	FieldSheet        = "sheet"
	FieldEvidenceLink = "evidence_link"
	FieldDuplicate    = "duplicate"
	FieldModel        = "model"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentGateway   = "gateway"
	ComponentDispatch  = "dispatcher"
	ComponentReceipt   = "receipt"
	ComponentExtract   = "extract"
	ComponentFiles     = "filestore"
	ComponentLedger    = "ledger"
	ComponentSummary   = "summary"
	ComponentApproval  = "approval"
	ComponentSlack     = "slack"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpDownload  = "download"
	OpStore     = "store"
	OpOCR       = "ocr"
	OpExtract   = "extract"
	OpAppend    = "append"
	OpReconcile = "reconcile"
	OpNotify    = "notify"
	OpApprove   = "approve"
	OpEnqueue   = "enqueue"
	OpDispatch  = "dispatch"
	OpValidate  = "validate"
	OpParse     = "parse"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)


// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEvent adds the inbound event identity
func (f LogFields) WithEvent(eventID, channel string) LogFields {
	f[FieldEventID] = eventID
	f[FieldChannel] = channel
	return f
}

// WithReceipt adds extracted receipt fields
func (f LogFields) WithReceipt(payee string, amount int64, category string) LogFields {
	f[FieldPayee] = payee
	f[FieldAmount] = amount
	f[FieldCategory] = category
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
