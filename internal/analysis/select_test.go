package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/pkg/config"
)

func TestNewSelectsAnalyzer(t *testing.T) {
	mock, err := New(&config.Config{AnalyzerMode: config.ModeMock, APIBaseURL: "https://vision.example"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MockAnalyzer{}, mock)

	api, err := New(&config.Config{AnalyzerMode: config.ModeAPI, APIBaseURL: "https://vision.example"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Client{}, api)
}

func TestNewMissingBaseURLPolicy(t *testing.T) {
	fallback, err := New(&config.Config{AnalyzerMode: config.ModeAPI, MissingBaseURLPolicy: config.MissingBaseURLMock}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MockAnalyzer{}, fallback)

	_, err = New(&config.Config{AnalyzerMode: config.ModeAPI, MissingBaseURLPolicy: config.MissingBaseURLError}, nil)
	assert.ErrorIs(t, err, ErrMissingBaseURL)
}

func TestOptionsFrom(t *testing.T) {
	opts := OptionsFrom(&config.Config{AnalyzeTimeoutMs: 12000, AnalyzeMaxRetries: 2, AnalyzeRetryDelayMs: 400})
	assert.Equal(t, DefaultOptions, opts)
}
