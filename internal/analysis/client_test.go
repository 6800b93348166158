package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/entity"
)

var req = entity.AnalyzeRequest{ImageURL: "https://img.example/a.jpg", PageURL: "https://shop.example/p/1"}

func newTestClient(t *testing.T, srv *httptest.Server, slept *[]time.Duration) *Client {
	t.Helper()
	c, err := NewClient(srv.URL+"/", WithSleeper(func(d time.Duration) {
		if slept != nil {
			*slept = append(*slept, d)
		}
	}))
	require.NoError(t, err)
	return c
}

func TestAnalyzeSuccess(t *testing.T) {
	var got analyzeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analyze", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alt":"  빨간 니트 스웨터  "}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, nil).Analyze(context.Background(), req, DefaultOptions)
	require.NoError(t, err)

	assert.Equal(t, "빨간 니트 스웨터", res.AltText)
	assert.Equal(t, entity.SourceAPI, res.Source)
	assert.Equal(t, analyzeBody{ImageURL: req.ImageURL, PageURL: req.PageURL}, got)
}

func TestAnalyzeTimeoutRetriesWithGrowingDelay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	var slept []time.Duration
	_, err := newTestClient(t, srv, &slept).Analyze(context.Background(), req, Options{
		Timeout:    30 * time.Millisecond,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	})

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entity.CodeTimeout, ce.Code)
	assert.True(t, ce.Retryable)
	assert.Equal(t, 3, ce.Attempts)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, slept)
}

func TestAnalyzeServerErrorThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"alt":"ok"}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	res, err := newTestClient(t, srv, &slept).Analyze(context.Background(), req, Options{
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: 400 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.AltText)
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}, slept)
}

func TestAnalyzeServerErrorExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).Analyze(context.Background(), req, Options{Timeout: time.Second, MaxRetries: 1})

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entity.CodeServerError, ce.Code)
	assert.Equal(t, http.StatusBadGateway, ce.StatusCode)
	assert.EqualValues(t, 2, hits.Load())
}

func TestAnalyzeTerminalFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"client error", http.StatusNotFound, `{"alt":"ignored"}`},
		{"malformed body", http.StatusOK, `not json`},
		{"missing alt", http.StatusOK, `{}`},
		{"blank alt", http.StatusOK, `{"alt":"   "}`},
		{"empty body", http.StatusOK, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var slept []time.Duration
			_, err := newTestClient(t, srv, &slept).Analyze(context.Background(), req, DefaultOptions)

			var ce *ClientError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, entity.CodeUnknownError, ce.Code)
			assert.False(t, ce.Retryable)
			assert.EqualValues(t, 1, hits.Load())
			assert.Empty(t, slept)
		})
	}
}

func TestAnalyzeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	var slept []time.Duration
	_, err := newTestClient(t, srv, &slept).Analyze(context.Background(), req, Options{
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entity.CodeNetworkError, ce.Code)
	assert.True(t, ce.Retryable)
	assert.Len(t, slept, 2)
}

func TestAnalyzeStopsWhenCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewClient(srv.URL, WithSleeper(func(time.Duration) { cancel() }))
	require.NoError(t, err)

	_, err = c.Analyze(ctx, req, Options{Timeout: time.Second, MaxRetries: 5, RetryDelay: time.Millisecond})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	assert.ErrorIs(t, err, ErrMissingBaseURL)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, entity.CodeTimeout, CodeOf(newError(entity.CodeTimeout, 0, "x", nil)))
	assert.Equal(t, entity.CodeUnknownError, CodeOf(errors.New("plain")))
}
