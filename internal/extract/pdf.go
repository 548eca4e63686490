package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"receipts/internal/filestore"

	"github.com/ledongthuc/pdf"
)

const maxPDFText = 1 << 20

// PDFText returns the text embedded in a PDF. Scanned PDFs without a text
// layer yield filestore.ErrNoText so callers fall back to OCR.
func PDFText(body []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	b, err := io.ReadAll(io.LimitReader(plain, maxPDFText))
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	text = strings.TrimSpace(string(b))
	if text == "" {
		return "", filestore.ErrNoText
	}
	return text, nil
}
