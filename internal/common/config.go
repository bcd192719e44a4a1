package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/folio/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Extraction  ExtractionConfig `toml:"extraction"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	OCR         OCRConfig        `toml:"ocr"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
}

// Admission modes for the concurrency cap
const (
	AdmissionBestEffort = "best_effort" // Approximate cap read from the tracker size
	AdmissionStrict     = "strict"      // Check-and-register under one lock
)

// ExtractionConfig controls admission and conversion
type ExtractionConfig struct {
	MaxFileSize   int64    `toml:"max_file_size" validate:"gt=0"`                         // Bytes
	MaxConcurrent int      `toml:"max_concurrent" validate:"gt=0"`                        // Concurrency cap at admission
	StuckTimeout  string   `toml:"stuck_timeout" validate:"required"`                     // e.g. "30m"
	MaxRetries    int      `toml:"max_retries" validate:"gte=0"`                          // Stuck-sweep retries per attempt
	PreviewLength int      `toml:"preview_length" validate:"gt=0"`                        // Characters kept in the preview
	Admission     string   `toml:"admission" validate:"oneof=best_effort strict"`         // best_effort | strict
	AllowedTypes  []string `toml:"allowed_types" validate:"min=1,dive,oneof=pdf docx markdown"`
	ArtifactsDir  string   `toml:"artifacts_dir" validate:"required"` // Content tree JSON files
}

// StuckTimeoutDuration returns the parsed stuck timeout
func (c ExtractionConfig) StuckTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.StuckTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// IsTypeAllowed reports whether the deployment accepts the document type
func (c ExtractionConfig) IsTypeAllowed(t models.DocumentType) bool {
	for _, allowed := range c.AllowedTypes {
		if models.DocumentType(allowed) == t {
			return true
		}
	}
	return false
}

// SchedulerConfig controls the maintenance cron jobs (6-field cron with seconds)
type SchedulerConfig struct {
	Enabled            bool    `toml:"enabled"`
	StuckSweepSchedule string  `toml:"stuck_sweep_schedule" validate:"required"`
	RetentionSchedule  string  `toml:"retention_schedule" validate:"required"`
	RetentionAge       string  `toml:"retention_age" validate:"required"` // e.g. "720h"
	ResubmitRate       float64 `toml:"resubmit_rate" validate:"gt=0"`     // Sweep re-submissions per second
}

// RetentionAgeDuration returns the parsed retention age
func (c SchedulerConfig) RetentionAgeDuration() time.Duration {
	d, err := time.ParseDuration(c.RetentionAge)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}

// OCRConfig configures the external tools behind the PDF OCR method
type OCRConfig struct {
	Enabled   bool   `toml:"enabled"`
	Pdftoppm  string `toml:"pdftoppm"`  // Binary name or absolute path
	Tesseract string `toml:"tesseract"` // Binary name or absolute path
	Language  string `toml:"language"`
	DPI       int    `toml:"dpi" validate:"gte=72,lte=1200"`
	MaxPages  int    `toml:"max_pages" validate:"gte=0"` // 0 = no limit
}

type StorageConfig struct {
	Type   string       `toml:"type" validate:"oneof=badger sqlite"`
	Badger BadgerConfig `toml:"badger"`
	SQLite SQLiteConfig `toml:"sqlite"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
	Dir        string   `toml:"dir"`         // Log file directory (default: logs next to the executable)
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Extraction: ExtractionConfig{
			MaxFileSize:   10 * 1024 * 1024, // 10MB
			MaxConcurrent: 3,
			StuckTimeout:  "30m",
			MaxRetries:    3,
			PreviewLength: 200,
			Admission:     AdmissionBestEffort,
			AllowedTypes:  []string{"pdf", "docx", "markdown"},
			ArtifactsDir:  "./data/artifacts",
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			StuckSweepSchedule: "0 */5 * * * *", // Every 5 minutes
			RetentionSchedule:  "0 0 3 * * *",   // Daily at 03:00
			RetentionAge:       "720h",          // 30 days
			ResubmitRate:       2,
		},
		OCR: OCRConfig{
			Enabled:   false, // Requires pdftoppm and tesseract on PATH
			Pdftoppm:  "pdftoppm",
			Tesseract: "tesseract",
			Language:  "eng",
			DPI:       300,
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			SQLite: SQLiteConfig{
				Path:          "./data/folio.db",
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks field constraints, durations and cron expressions
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return models.NewExtractionError(models.ErrorKindConfiguration, err, "invalid configuration")
	}

	if _, err := time.ParseDuration(c.Extraction.StuckTimeout); err != nil {
		return models.NewExtractionError(models.ErrorKindConfiguration, err, "invalid extraction.stuck_timeout %q", c.Extraction.StuckTimeout)
	}
	if _, err := time.ParseDuration(c.Scheduler.RetentionAge); err != nil {
		return models.NewExtractionError(models.ErrorKindConfiguration, err, "invalid scheduler.retention_age %q", c.Scheduler.RetentionAge)
	}

	parser := NewCronParser()
	for name, expr := range map[string]string{
		"scheduler.stuck_sweep_schedule": c.Scheduler.StuckSweepSchedule,
		"scheduler.retention_schedule":   c.Scheduler.RetentionSchedule,
	} {
		if _, err := parser.Parse(expr); err != nil {
			return models.NewExtractionError(models.ErrorKindConfiguration, err, "invalid %s %q", name, expr)
		}
	}

	return nil
}

// NewCronParser returns the 6-field (seconds) cron parser used for all schedules
func NewCronParser() cron.Parser {
	return cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FOLIO_ENV"); env != "" {
		config.Environment = env
	}

	// Extraction configuration
	if maxSize := os.Getenv("FOLIO_EXTRACTION_MAX_FILE_SIZE"); maxSize != "" {
		if v, err := strconv.ParseInt(maxSize, 10, 64); err == nil {
			config.Extraction.MaxFileSize = v
		}
	}
	if maxConcurrent := os.Getenv("FOLIO_EXTRACTION_MAX_CONCURRENT"); maxConcurrent != "" {
		if v, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Extraction.MaxConcurrent = v
		}
	}
	if stuckTimeout := os.Getenv("FOLIO_EXTRACTION_STUCK_TIMEOUT"); stuckTimeout != "" {
		config.Extraction.StuckTimeout = stuckTimeout
	}
	if maxRetries := os.Getenv("FOLIO_EXTRACTION_MAX_RETRIES"); maxRetries != "" {
		if v, err := strconv.Atoi(maxRetries); err == nil {
			config.Extraction.MaxRetries = v
		}
	}
	if admission := os.Getenv("FOLIO_EXTRACTION_ADMISSION"); admission != "" {
		config.Extraction.Admission = admission
	}
	if dir := os.Getenv("FOLIO_EXTRACTION_ARTIFACTS_DIR"); dir != "" {
		config.Extraction.ArtifactsDir = dir
	}

	// Scheduler configuration
	if enabled := os.Getenv("FOLIO_SCHEDULER_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = v
		}
	}
	if schedule := os.Getenv("FOLIO_SCHEDULER_STUCK_SWEEP_SCHEDULE"); schedule != "" {
		config.Scheduler.StuckSweepSchedule = schedule
	}

	// OCR configuration
	if enabled := os.Getenv("FOLIO_OCR_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			config.OCR.Enabled = v
		}
	}
	if lang := os.Getenv("FOLIO_OCR_LANGUAGE"); lang != "" {
		config.OCR.Language = lang
	}

	// Storage configuration
	if storageType := os.Getenv("FOLIO_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("FOLIO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if sqlitePath := os.Getenv("FOLIO_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLite.Path = sqlitePath
	}

	// Logging configuration
	if level := os.Getenv("FOLIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FOLIO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, maxConcurrent int, logLevel string) {
	if maxConcurrent > 0 {
		config.Extraction.MaxConcurrent = maxConcurrent
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}
