package core

import (
	"errors"
	"strings"
	"time"
)

// Defaults written when extraction cannot recover a field.
const (
	PayeeUnknown          = "不明"
	PayeeExtractionError  = "抽出エラー"
	CategoryUncategorized = "未分類"
	SourceSlack           = "Slack"
)

// ApprovalStatus is the value of the ledger status column.
type ApprovalStatus string

const (
	StatusUnset    ApprovalStatus = ""
	StatusApproved ApprovalStatus = "経費"
	StatusRejected ApprovalStatus = "-"
)

// Action names carried in approval tokens.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

var (
	ErrRowNotFound   = errors.New("ledger row not found")
	ErrSheetNotFound = errors.New("ledger sheet not found")
	ErrUnknownAction = errors.New("unknown approval action")
)

type (
	// InboundEvent is a chat message event carrying attachments.
	InboundEvent struct {
		ID          string
		Type        string
		Channel     string
		User        string
		FromBot     bool
		Attachments []Attachment
	}

	// ExtractedRecord is the structured result for one attachment.
	ExtractedRecord struct {
		Date     time.Time
		Payee    string
		Amount   int64
		Category string
		RawText  string
		// Failed marks a record produced by the degraded path, and
		// FailureReason says what went wrong with the model.
		Failed        bool
		FailureReason string
	}

	// LedgerRowRef identifies an appended ledger row. EvidenceLink is the
	// only handle that survives re-sorting of the sheet.
	LedgerRowRef struct {
		SheetName    string
		EvidenceLink string
		RowKey       string
		Ratio        float64
		Duplicate    bool
	}

	// LedgerEntry is an existing ledger row as read back from storage.
	LedgerEntry struct {
		Date         time.Time
		Payee        string
		Category     string
		Amount       int64
		Ratio        float64
		Status       ApprovalStatus
		EvidenceLink string
	}

	// ErrorEntry is one diagnostic line for the error log.
	ErrorEntry struct {
		Time    time.Time
		Message string
		Stage   string
		Event   string
	}
)

// ActionStatus maps an approval action to the status it writes.
func ActionStatus(action string) (ApprovalStatus, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionApprove:
		return StatusApproved, nil
	case ActionReject:
		return StatusRejected, nil
	default:
		return StatusUnset, ErrUnknownAction
	}
}

// Year returns the ledger sheet year for the record.
func (r ExtractedRecord) Year() int {
	return r.Date.Year()
}

// Note returns the audit note stored next to the row, an excerpt of the OCR text.
func (r ExtractedRecord) Note() string {
	const excerpt = 50
	text := []rune(strings.TrimSpace(r.RawText))
	if len(text) > excerpt {
		text = text[:excerpt]
	}
	return "OCR生データ: " + string(text) + "..."
}

// Entry converts the record into the shape used for duplicate checks.
func (r ExtractedRecord) Entry() LedgerEntry {
	return LedgerEntry{
		Date:     r.Date,
		Payee:    r.Payee,
		Category: r.Category,
		Amount:   r.Amount,
	}
}
