package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"receipts/internal/core"
	"receipts/internal/sheets"
)

const (
	// SettingsSheet holds the category to ratio table.
	SettingsSheet = "設定"
)

var settingsHeaders = []any{"名目", "按分率"}

// SettingsStore reads the settings collection, seeding it with the preset
// the first time it is needed. The collection is read-only afterwards.
type SettingsStore struct {
	wb     sheets.Workbook
	logger *slog.Logger
	mu     sync.Mutex
}

var _ sheets.SettingsReader = (*SettingsStore)(nil)

func NewSettingsStore(wb sheets.Workbook, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{wb: wb, logger: logger}
}

// Load returns the current settings. Rows without a name are skipped and
// an unreadable ratio falls back to core.DefaultRatio.
func (s *SettingsStore) Load(ctx context.Context) (core.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.wb.EnsureSheet(ctx, SettingsSheet)
	if err != nil {
		return core.Settings{}, fmt.Errorf("ensure %s: %w", SettingsSheet, err)
	}
	if created {
		return s.seed(ctx)
	}

	rows, err := s.wb.ReadRows(ctx, SettingsSheet)
	if err != nil {
		return core.Settings{}, fmt.Errorf("read %s: %w", SettingsSheet, err)
	}
	var out core.Settings
	for i, r := range rows {
		if i == 0 {
			continue
		}
		name := cell(r, 1)
		if name == "" {
			continue
		}
		ratio, ok := core.ParseRatio(cell(r, 2))
		if !ok {
			s.logger.WarnContext(ctx, "Invalid ratio in settings, using default",
				"category", name, "value", cell(r, 2), "default", core.DefaultRatio)
			ratio = core.DefaultRatio
		}
		out.Add(name, ratio)
	}
	return out, nil
}

func (s *SettingsStore) seed(ctx context.Context) (core.Settings, error) {
	preset := core.DefaultSettings()
	rows := make([][]any, 0, len(preset.Categories)+1)
	rows = append(rows, settingsHeaders)
	for _, c := range preset.Categories {
		rows = append(rows, []any{c, preset.Ratios[c]})
	}
	if _, err := s.wb.AppendRows(ctx, SettingsSheet, rows); err != nil {
		return core.Settings{}, fmt.Errorf("seed %s: %w", SettingsSheet, err)
	}
	if err := s.wb.FreezeHeader(ctx, SettingsSheet); err != nil {
		s.logger.WarnContext(ctx, "Failed to freeze settings header", "error", err)
	}
	s.logger.InfoContext(ctx, "Settings seeded with preset", "categories", len(preset.Categories))
	return preset, nil
}
