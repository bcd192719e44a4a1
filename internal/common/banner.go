package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Folio", GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("storage", config.Storage.Type).
		Int("max_concurrent", config.Extraction.MaxConcurrent).
		Int64("max_file_size", config.Extraction.MaxFileSize).
		Str("admission", config.Extraction.Admission).
		Bool("ocr_enabled", config.OCR.Enabled).
		Msg("Folio starting")
}
