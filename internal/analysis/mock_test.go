package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/entity"
)

func TestMockDescription(t *testing.T) {
	tests := map[string]string{
		"https://img.example/detail_main-01.JPG?w=800": "detail main 01",
		"https://img.example/products/shoe.webp":       "shoe",
		"https://img.example/":                         "이미지",
	}
	for in, summary := range tests {
		assert.Equal(t, "상품 상세 이미지입니다. 주요 정보가 포함되어 있으며 파일 식별명은 "+summary+"입니다.", MockDescription(in), in)
	}
}

func TestMockAnalyzerWaitsDelay(t *testing.T) {
	var waited time.Duration
	m := &MockAnalyzer{Delay: DefaultMockDelay, After: func(d time.Duration) <-chan time.Time {
		waited = d
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}}

	res, err := m.Analyze(context.Background(), entity.AnalyzeRequest{ImageURL: "https://img.example/a.jpg"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMockDelay, waited)
	assert.Equal(t, entity.SourceMock, res.Source)
	assert.Contains(t, res.AltText, "파일 식별명은 a입니다")
}

func TestMockAnalyzerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &MockAnalyzer{Delay: time.Hour}

	_, err := m.Analyze(ctx, entity.AnalyzeRequest{ImageURL: "https://img.example/a.jpg"}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
