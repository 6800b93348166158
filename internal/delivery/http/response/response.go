package response

import "time"

// HealthResponse reports the relay status and its dependencies.
type HealthResponse struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks,omitempty"`
}

// AnalysisStatusResponse is a DTO for the logged outcome of an image,
// mirroring entity.AnalysisRecord.
type AnalysisStatusResponse struct {
	ImageURL     string    `json:"image_url"`
	PageURL      string    `json:"page_url,omitempty"`
	Status       string    `json:"status"` // "completed", "error"
	AltText      string    `json:"alt_text,omitempty"`
	Source       string    `json:"source,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LatencyMs    int64     `json:"latency_ms"`
	AttemptCount int       `json:"attempt_count"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}
