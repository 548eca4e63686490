package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"receipts/internal/core"
)

// ReceiptJob asks a worker to run the receipt pipeline for one attachment.
// The attachment carries its own download URL; the worker fetches the body.
type ReceiptJob struct {
	EventID    string          `json:"event_id"`
	Channel    string          `json:"channel"`
	Attachment core.Attachment `json:"attachment"`
	// Event is the originating event, kept for the error log.
	Event     json.RawMessage `json:"event,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewReceiptJob creates a job stamped with the current time.
func NewReceiptJob(eventID, channel string, att core.Attachment, event json.RawMessage) *ReceiptJob {
	return &ReceiptJob{
		EventID:    eventID,
		Channel:    channel,
		Attachment: att,
		Event:      event,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the job to JSON bytes
func (j *ReceiptJob) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// ReceiptJobFromJSON decodes a job and rejects jobs without a download URL.
func ReceiptJobFromJSON(data []byte) (*ReceiptJob, error) {
	var job ReceiptJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if job.Attachment.DownloadURL == "" {
		return nil, errors.New("receipt job has no attachment download url")
	}
	return &job, nil
}
