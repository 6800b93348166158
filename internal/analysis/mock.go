package analysis

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/user/lumos/internal/entity"
)

// DefaultMockDelay imitates a typical remote response time.
const DefaultMockDelay = 600 * time.Millisecond

var extPattern = regexp.MustCompile(`(?i)\.[a-z0-9]+$`)

// MockAnalyzer builds a description from the image filename. It never
// fails except on cancellation.
type MockAnalyzer struct {
	Delay time.Duration
	// After defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// NewMockAnalyzer returns a mock waiting delay before answering.
func NewMockAnalyzer(delay time.Duration) *MockAnalyzer {
	return &MockAnalyzer{Delay: delay}
}

func (m *MockAnalyzer) Analyze(ctx context.Context, req entity.AnalyzeRequest, _ Options) (*entity.AnalyzeResult, error) {
	start := time.Now()
	if m.Delay > 0 {
		after := m.After
		if after == nil {
			after = time.After
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-after(m.Delay):
		}
	}
	return &entity.AnalyzeResult{
		AltText:   MockDescription(req.ImageURL),
		Source:    entity.SourceMock,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// MockDescription derives the synthetic text for imageURL.
func MockDescription(imageURL string) string {
	return fmt.Sprintf("상품 상세 이미지입니다. 주요 정보가 포함되어 있으며 파일 식별명은 %s입니다.", fileSummary(imageURL))
}

func fileSummary(imageURL string) string {
	name := imageURL
	if u, err := url.Parse(imageURL); err == nil && u.Path != "" {
		name = u.Path
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "이미지"
	}
	summary := strings.NewReplacer("-", " ", "_", " ").Replace(name)
	summary = extPattern.ReplaceAllString(summary, "")
	if strings.TrimSpace(summary) == "" {
		return "이미지"
	}
	return summary
}
