package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/user/lumos/internal/delivery/http/response"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/internal/usecase"
	"github.com/user/lumos/pkg/logger"
	"github.com/user/lumos/pkg/utils"
)

// maxEnvelopeBytes bounds a relay request body.
const maxEnvelopeBytes = 64 << 10

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	relay  usecase.Relay
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHandler creates the HTTP handlers. checks maps a dependency name to
// its pinger and may be nil.
func NewHandler(relay usecase.Relay, checks map[string]Pinger, l *zap.Logger) *Handler {
	return &Handler{
		relay:  relay,
		checks: checks,
		logger: logger.OrNop(l),
	}
}

// HandleRelay answers one relay envelope. The HTTP status is 200 for every
// envelope the relay answered, including classified failures.
func (h *Handler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err != nil {
		h.writeJSONError(w, "Request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	h.writeJSON(w, http.StatusOK, h.relay.HandleRaw(r.Context(), body))
}

func (h *Handler) HandleGetAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		h.writeJSONError(w, "URL query parameter is required", http.StatusBadRequest)
		return
	}
	if !utils.IsHTTPURL(rawURL) {
		h.writeJSONError(w, "Invalid URL format in query parameter", http.StatusBadRequest)
		return
	}

	rec, err := h.relay.LastAnalysis(r.Context(), rawURL)
	if errors.Is(err, repository.ErrRecordNotFound) {
		h.writeJSONError(w, "No analysis found for the given URL", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get analysis status", zap.String("image_url", rawURL), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, response.AnalysisStatusResponse{
		ImageURL:     rec.ImageURL,
		PageURL:      rec.PageURL,
		Status:       rec.Status,
		AltText:      rec.AltText,
		Source:       string(rec.Source),
		ErrorCode:    string(rec.ErrorCode),
		ErrorMessage: rec.ErrorMessage,
		LatencyMs:    rec.LatencyMs,
		AttemptCount: rec.AttemptCount,
		AnalyzedAt:   rec.AnalyzedAt,
	})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := response.HealthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", zap.String("dependency", name), zap.Error(err))
			resp.Checks[name] = "unhealthy"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "healthy"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
