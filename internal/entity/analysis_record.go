package entity

import "time"

// AnalysisRecord mirrors the `image_analyses` PostgreSQL table. One row per
// image URL holds the latest outcome.
type AnalysisRecord struct {
	ID           int64
	ImageURL     string
	PageURL      string
	Status       string // "completed", "error"
	AltText      string
	Source       Source
	ErrorCode    ErrorCode
	ErrorMessage string
	LatencyMs    int64
	AttemptCount int
	AnalyzedAt   time.Time
}

const (
	RecordCompleted = "completed"
	RecordError     = "error"
)
