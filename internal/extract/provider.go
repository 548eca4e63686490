// Package extract turns receipt text into structured records with a
// generative model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ActionGenerateContent is the model capability the pipeline needs.
const ActionGenerateContent = "generateContent"

// Model is one entry of the provider's model catalogue.
type Model struct {
	Name    string
	Actions []string
}

// Supports reports whether the model advertises action.
func (m Model) Supports(action string) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Media is inline binary content sent along with a prompt.
type Media struct {
	MIMEType string
	Data     []byte
}

// Provider is the generative model backend.
type Provider interface {
	ListModels(ctx context.Context) ([]Model, error)
	Generate(ctx context.Context, model, prompt string, media *Media) (string, error)
}

// GenAIConfig configures the Gemini API provider.
type GenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, mostly for tests.
	BaseURL string
}

// GenAI is a Provider backed by the Gemini API.
type GenAI struct {
	client *genai.Client
}

var _ Provider = (*GenAI)(nil)

// NewGenAI creates a Gemini API provider.
func NewGenAI(ctx context.Context, cfg GenAIConfig) (*GenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing GEMINI_API_KEY")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAI{client: client}, nil
}

// ListModels pages through the whole model catalogue.
func (g *GenAI) ListModels(ctx context.Context) ([]Model, error) {
	var out []Model
	page, err := g.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 100})
	for {
		if errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		for _, m := range page.Items {
			out = append(out, Model{
				Name:    strings.TrimPrefix(m.Name, "models/"),
				Actions: m.SupportedActions,
			})
		}
		if page.NextPageToken == "" {
			break
		}
		page, err = page.Next(ctx)
	}
	return out, nil
}

// Generate sends prompt, plus media when given, and returns the text reply.
func (g *GenAI) Generate(ctx context.Context, model, prompt string, media *Media) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	if media != nil && len(media.Data) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: media.MIMEType, Data: media.Data},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", model, err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty response from %s", model)
	}
	return text, nil
}
