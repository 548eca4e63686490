package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string

	// Backend selection
	DataBackend string
	FileBackend string

	// Database
	SQLiteDBPath string

	// AMQP (optional; empty URL processes receipts inline)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	DriveRootFolderID        string
	OCRLanguage              string
	GCSBucket                string
	GCSPrefix                string

	// Extraction
	GeminiAPIKey  string
	GeminiModel   string
	ModelCacheTTL time.Duration

	// Slack
	SlackBotToken      string
	SlackSigningSecret string
	TargetChannelID    string

	// Pipeline
	DedupTTL              time.Duration
	DedupMaxEntries       int
	DuplicateDayTolerance int
	TimeZone              string
	LedgerSortByDate      bool
	AuditRequestDump      bool
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 600),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DataBackend: getEnv("DATA_BACKEND", "sheets"),
		FileBackend: getEnv("FILE_BACKEND", "drive"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/receipts.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "receipts"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "receipt_jobs"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),
		DriveRootFolderID:        getEnv("DRIVE_ROOT_FOLDER_ID", ""),
		OCRLanguage:              getEnv("OCR_LANGUAGE", "ja"),
		GCSBucket:                getEnv("GCS_BUCKET", ""),
		GCSPrefix:                getEnv("GCS_PREFIX", "receipts"),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
		GeminiModel:   getEnv("GEMINI_MODEL", ""),
		ModelCacheTTL: getEnvDuration("MODEL_CACHE_TTL", 10*time.Minute),

		SlackBotToken:      getEnv("SLACK_BOT_TOKEN", ""),
		SlackSigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),
		TargetChannelID:    getEnv("TARGET_CHANNEL_ID", ""),

		DedupTTL:              getEnvDuration("DEDUP_TTL", 6*time.Minute),
		DedupMaxEntries:       getEnvInt("DEDUP_MAX_ENTRIES", 10000),
		DuplicateDayTolerance: getEnvInt("DUPLICATE_DAY_TOLERANCE", 1),
		TimeZone:              getEnv("TIMEZONE", "Asia/Tokyo"),
		LedgerSortByDate:      getEnvBool("LEDGER_SORT_BY_DATE", false),
		AuditRequestDump:      getEnvBool("AUDIT_REQUEST_DUMP", true),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"sheets", "sqlite", "memory"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	validFileBackends := []string{"drive", "gcs", "memory"}
	if !slices.Contains(validFileBackends, c.FileBackend) {
		errors = append(errors, fmt.Sprintf("invalid file backend '%s': must be one of %v", c.FileBackend, validFileBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Google credentials are needed by the sheets backend and both remote file backends
	needsGoogle := c.DataBackend == "sheets" || c.FileBackend == "drive" || c.FileBackend == "gcs"
	if needsGoogle && c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided")
	}
	if c.GoogleServiceAccountFile != "" && c.GoogleServiceAccountJSON == "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}
	if c.DataBackend == "sheets" && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
	}
	if c.FileBackend == "drive" && c.DriveRootFolderID == "" {
		errors = append(errors, "Drive root folder ID is required when using drive file backend")
	}
	if c.FileBackend == "gcs" && c.GCSBucket == "" {
		errors = append(errors, "GCS bucket is required when using gcs file backend")
	}
	if c.GeminiAPIKey == "" {
		errors = append(errors, "GEMINI_API_KEY is required for receipt extraction")
	}

	if c.SlackBotToken == "" {
		errors = append(errors, "SLACK_BOT_TOKEN is required")
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.DedupTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid dedup TTL %v: must be at least 1 minute", c.DedupTTL))
	}
	if c.DedupMaxEntries < 1 {
		errors = append(errors, fmt.Sprintf("invalid dedup max entries %d: must be at least 1", c.DedupMaxEntries))
	}
	if c.DuplicateDayTolerance < 0 || c.DuplicateDayTolerance > 31 {
		errors = append(errors, fmt.Sprintf("invalid duplicate day tolerance %d: must be between 0 and 31", c.DuplicateDayTolerance))
	}
	if c.ModelCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid model cache TTL %v: must not be negative", c.ModelCacheTTL))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid time zone '%s': %v", c.TimeZone, err))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AsyncMode reports whether receipts are queued instead of processed inline.
func (c *Config) AsyncMode() bool {
	return c.AMQPURL != ""
}

// GoogleCredentialsJSON returns the service account key, reading the file when needed.
func (c *Config) GoogleCredentialsJSON() ([]byte, error) {
	if c.GoogleServiceAccountJSON != "" {
		return []byte(c.GoogleServiceAccountJSON), nil
	}
	if c.GoogleServiceAccountFile == "" {
		return nil, fmt.Errorf("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(c.GoogleServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
