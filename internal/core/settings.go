package core

import "strings"

// DefaultRatio applies to categories missing from the settings.
const DefaultRatio = 1.0

// Settings maps expense categories to their default allocation ratio.
// Categories keeps the order in which they appear in the settings sheet.
type Settings struct {
	Categories []string
	Ratios     map[string]float64
}

// DefaultSettings is the preset written on first use.
func DefaultSettings() Settings {
	preset := []struct {
		name  string
		ratio float64
	}{
		{"消耗品費", 1.0},
		{"旅費交通費", 1.0},
		{"通信費", 0.5},
		{"会議費", 1.0},
		{"接待交際費", 1.0},
		{"新聞図書費", 1.0},
		{"地代家賃", 0.3},
		{"水道光熱費", 0.3},
		{"支払手数料", 1.0},
		{"雑費", 1.0},
	}
	s := Settings{Ratios: make(map[string]float64, len(preset))}
	for _, p := range preset {
		s.Add(p.name, p.ratio)
	}
	return s
}

// Add registers a category, keeping the first ratio seen for duplicates.
func (s *Settings) Add(category string, ratio float64) {
	category = strings.TrimSpace(category)
	if category == "" {
		return
	}
	if s.Ratios == nil {
		s.Ratios = make(map[string]float64)
	}
	if _, ok := s.Ratios[category]; ok {
		return
	}
	s.Ratios[category] = ratio
	s.Categories = append(s.Categories, category)
}

// Ratio returns the allocation ratio of category, or DefaultRatio.
func (s Settings) Ratio(category string) float64 {
	if r, ok := s.Ratios[category]; ok {
		return r
	}
	return DefaultRatio
}

// NormalizeCategory returns category when it is one of the allowed values,
// or CategoryUncategorized.
func NormalizeCategory(category string, allowed []string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return CategoryUncategorized
	}
	for _, c := range allowed {
		if c == category {
			return category
		}
	}
	return CategoryUncategorized
}
