// Package filestore persists receipt attachments in dated folders and
// exposes the text recognizers that work on stored files.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"receipts/internal/core"
)

// ErrNoText is returned by recognizers when a file holds no readable text.
var ErrNoText = errors.New("no text recognized")

// StoredFile describes a persisted attachment.
type StoredFile struct {
	ID       string
	Name     string
	URL      string
	MIMEType string
	// Folder is the "YYYY/MM" path the file was filed under.
	Folder string
}

// Store persists attachment bodies.
type Store interface {
	Store(ctx context.Context, att core.Attachment, body []byte) (StoredFile, error)
}

// Recognizer turns a stored file into plain text.
type Recognizer interface {
	Recognize(ctx context.Context, file StoredFile, body []byte) (string, error)
}

// FileName returns the name a receipt stored at t receives.
func FileName(t time.Time, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("receipt_%s.%s", t.Format("20060102_150405"), ext)
}

// Folders returns the year and month folder names for t.
func Folders(t time.Time) (year, month string) {
	return t.Format("2006"), t.Format("01")
}

// WithSuffix inserts "_n" before the extension of name, for collisions.
func WithSuffix(name string, n int) string {
	if n <= 1 {
		return name
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		return fmt.Sprintf("%s_%d%s", name[:i], n, name[i:])
	}
	return fmt.Sprintf("%s_%d", name, n)
}

// Clock returns the current time in loc.
func Clock(loc *time.Location) func() time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time { return time.Now().In(loc) }
}
