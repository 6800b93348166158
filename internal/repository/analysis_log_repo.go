package repository

import (
	"context"
	"errors"

	"github.com/user/lumos/internal/entity"
)

// ErrRecordNotFound is returned when no analysis was logged for a URL.
var ErrRecordNotFound = errors.New("analysis record not found")

// AnalysisLogRepository persists the latest analysis outcome per image URL.
type AnalysisLogRepository interface {
	// Save upserts a record, incrementing the attempt counter on conflict.
	Save(ctx context.Context, record *entity.AnalysisRecord) error
	// FindByURL retrieves the record for an image URL.
	FindByURL(ctx context.Context, imageURL string) (*entity.AnalysisRecord, error)
}
