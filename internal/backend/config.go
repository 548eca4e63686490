package backend

import (
	"fmt"

	"receipts/internal/config"
	"receipts/internal/core"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	cfg := Config{
		Type:                backendType,
		SQLiteDBPath:        appConfig.SQLiteDBPath,
		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
		DuplicateRule:       core.DuplicateRule{DayTolerance: appConfig.DuplicateDayTolerance},
		SortByDate:          appConfig.LedgerSortByDate,
		Location:            appConfig.Location(),
	}

	if backendType == SheetsBackend {
		creds, err := appConfig.GoogleCredentialsJSON()
		if err != nil {
			return Config{}, err
		}
		cfg.GoogleCredentialsJSON = creds
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}

	case SheetsBackend:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
		}
		if len(c.GoogleCredentialsJSON) == 0 {
			return fmt.Errorf("service account credentials are required for sheets backend")
		}

	case MemoryBackend:
		// Memory backend doesn't require additional validation
	}

	if c.DuplicateRule.DayTolerance < 0 {
		return fmt.Errorf("invalid duplicate day tolerance: %d", c.DuplicateRule.DayTolerance)
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, SheetsBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
