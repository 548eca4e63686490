package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultModel is used when discovery finds nothing usable.
const DefaultModel = "gemini-2.5-flash"

// ModelSelector picks the model used for extraction. Discovery results are
// cached for a TTL and concurrent lookups share one catalogue request.
type ModelSelector struct {
	provider Provider
	override string
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewModelSelector creates a selector. A non-empty override disables discovery.
func NewModelSelector(p Provider, override string, ttl time.Duration, logger *slog.Logger) *ModelSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelSelector{
		provider: p,
		override: strings.TrimSpace(override),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Select returns the model to use. On discovery failure it returns
// DefaultModel together with the error.
func (s *ModelSelector) Select(ctx context.Context) (string, error) {
	if s.override != "" {
		return s.override, nil
	}
	if m, ok := s.fromCache(); ok {
		return m, nil
	}

	v, err, _ := s.group.Do("models", func() (any, error) {
		if m, ok := s.fromCache(); ok {
			return m, nil
		}
		models, err := s.provider.ListModels(ctx)
		if err != nil {
			return DefaultModel, fmt.Errorf("discover models: %w", err)
		}
		m := Pick(models)
		s.mu.Lock()
		s.cached = m
		s.expires = s.now().Add(s.ttl)
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "Extraction model selected", "model", m, "candidates", len(models))
		return m, nil
	})
	return v.(string), err
}

func (s *ModelSelector) fromCache() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == "" || !s.now().Before(s.expires) {
		return "", false
	}
	return s.cached, true
}

// Pick prefers a "flash" model supporting content generation, then any
// model supporting it, then DefaultModel.
func Pick(models []Model) string {
	var fallback string
	for _, m := range models {
		if !m.Supports(ActionGenerateContent) {
			continue
		}
		if strings.Contains(m.Name, "flash") {
			return m.Name
		}
		if fallback == "" {
			fallback = m.Name
		}
	}
	if fallback != "" {
		return fallback
	}
	return DefaultModel
}
