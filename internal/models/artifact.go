package models

import "time"

// ExtractedArtifact is the durable output of a completed attempt.
// At most one artifact exists per document; a newer extraction replaces it.
type ExtractedArtifact struct {
	ID             string           `json:"artifact_id"`
	DocumentID     string           `json:"document_id"`
	AttemptID      string           `json:"attempt_id"`
	StoragePath    string           `json:"storage_path"`
	Content        *ContentNode     `json:"content"`
	Method         ExtractionMethod `json:"method"`
	ExtractedAt    time.Time        `json:"extracted_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Preview        string           `json:"preview"`
	WordCount      int              `json:"word_count"`
	CharacterCount int              `json:"character_count"`
}
