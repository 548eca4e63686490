package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"receipts/internal/filestore"
)

const visionPrompt = "この画像またはPDFはレシート・領収書です。記載されている文字をすべてそのまま書き起こしてください。説明や要約は不要です。"

// Vision recognizes text by sending the file bytes to the model. It is the
// OCR path for stores without a conversion service of their own.
type Vision struct {
	provider Provider
	models   *ModelSelector
	logger   *slog.Logger
}

var _ filestore.Recognizer = (*Vision)(nil)

// NewVision creates a model-backed recognizer.
func NewVision(p Provider, models *ModelSelector, logger *slog.Logger) *Vision {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vision{provider: p, models: models, logger: logger}
}

func (v *Vision) Recognize(ctx context.Context, file filestore.StoredFile, body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("%w: %s has no content", filestore.ErrNoText, file.Name)
	}
	model, err := v.models.Select(ctx)
	if err != nil {
		v.logger.WarnContext(ctx, "Model discovery failed, using fallback", "model", model, "error", err)
	}
	text, err := v.provider.Generate(ctx, model, visionPrompt, &Media{MIMEType: file.MIMEType, Data: body})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", file.Name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s", filestore.ErrNoText, file.Name)
	}
	return text, nil
}
