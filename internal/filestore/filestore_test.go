package filestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"receipts/internal/core"
)

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC)
	tests := []struct {
		ext, want string
	}{
		{"jpg", "receipt_20260301_090507.jpg"},
		{".pdf", "receipt_20260301_090507.pdf"},
		{"", "receipt_20260301_090507.bin"},
	}
	for _, tt := range tests {
		if got := FileName(ts, tt.ext); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestFolders(t *testing.T) {
	y, m := Folders(time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC))
	if y != "2026" || m != "01" {
		t.Errorf("Folders = %s/%s, want 2026/01", y, m)
	}
}

func TestWithSuffix(t *testing.T) {
	tests := map[string]string{
		"receipt_1.jpg": "receipt_1_3.jpg",
		"noext":         "noext_3",
	}
	for in, want := range tests {
		if got := WithSuffix(in, 3); got != want {
			t.Errorf("WithSuffix(%q, 3) = %q, want %q", in, got, want)
		}
	}
	if got := WithSuffix("a.jpg", 1); got != "a.jpg" {
		t.Errorf("WithSuffix(a.jpg, 1) = %q", got)
	}
}

func TestMemory_StoreFilesByMonthAndAvoidsCollisions(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewMemory(func() time.Time { return ts })
	ctx := context.Background()
	att := core.Attachment{ID: "F1", Name: "レシート.JPG", MIMEType: "image/jpeg"}

	a, err := m.Store(ctx, att, []byte("one"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	b, err := m.Store(ctx, att, []byte("two"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if a.Folder != "2026/03" || a.Name != "receipt_20260301_100000.jpg" {
		t.Errorf("unexpected first file %+v", a)
	}
	if b.Name != "receipt_20260301_100000_2.jpg" || a.URL == b.URL {
		t.Errorf("collision not avoided: %+v vs %+v", a, b)
	}
	if body, ok := m.Body(b.ID); !ok || string(body) != "two" {
		t.Errorf("Body = %q, %v", body, ok)
	}
	if len(m.Files()) != 2 {
		t.Errorf("Files() = %d entries", len(m.Files()))
	}
}

func TestMemory_Recognize(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	if _, err := m.Recognize(ctx, StoredFile{Name: "x"}, nil); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	m.Text = "合計 ¥3,000"
	got, err := m.Recognize(ctx, StoredFile{}, nil)
	if err != nil || got != "合計 ¥3,000" {
		t.Errorf("Recognize = %q, %v", got, err)
	}
}
