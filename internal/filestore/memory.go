package filestore

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sync"
	"time"

	"receipts/internal/core"
)

// Memory keeps files in process. It also acts as a Recognizer returning a
// fixed text, for local runs without OCR.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	order []StoredFile
	now   func() time.Time

	// Text is returned by Recognize; empty yields ErrNoText.
	Text string
}

var (
	_ Store      = (*Memory)(nil)
	_ Recognizer = (*Memory)(nil)
)

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = Clock(time.UTC)
	}
	return &Memory{files: make(map[string][]byte), now: now}
}

func (m *Memory) Store(ctx context.Context, att core.Attachment, body []byte) (StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return StoredFile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now()
	year, month := Folders(t)
	base := FileName(t, att.Extension())
	name := base
	for n := 2; ; n++ {
		if _, taken := m.files[path.Join(year, month, name)]; !taken {
			break
		}
		name = WithSuffix(base, n)
	}

	key := path.Join(year, month, name)
	m.files[key] = slices.Clone(body)
	f := StoredFile{
		ID:       key,
		Name:     name,
		URL:      "memory://" + key,
		MIMEType: att.MIMEType,
		Folder:   path.Join(year, month),
	}
	m.order = append(m.order, f)
	return f, nil
}

func (m *Memory) Recognize(ctx context.Context, file StoredFile, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Text == "" {
		return "", fmt.Errorf("%w: %s", ErrNoText, file.Name)
	}
	return m.Text, nil
}

// Files returns the stored files in order.
func (m *Memory) Files() []StoredFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// Body returns the content stored under id.
func (m *Memory) Body(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[id]
	return b, ok
}
