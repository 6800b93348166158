package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/lumos/internal/analysis"
	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/internal/repository"
	"github.com/user/lumos/pkg/logger"
	"github.com/user/lumos/pkg/metrics"
	"github.com/user/lumos/pkg/utils"
)

// unknownRequestID answers envelopes whose own id cannot be trusted.
const unknownRequestID = "unknown"

// Relay validates relay envelopes and runs analyses for them.
type Relay interface {
	Handle(ctx context.Context, req entity.Request) entity.Response
	// HandleRaw decodes and validates an envelope received as JSON.
	HandleRaw(ctx context.Context, raw []byte) entity.Response
	// LastAnalysis returns the logged outcome for an image URL.
	LastAnalysis(ctx context.Context, imageURL string) (*entity.AnalysisRecord, error)
}

type relayUseCase struct {
	analyzer analysis.Analyzer
	opts     analysis.Options
	logRepo  repository.AnalysisLogRepository
	logger   *zap.Logger
}

// NewRelayUseCase creates the relay. logRepo may be nil to skip the audit
// log.
func NewRelayUseCase(analyzer analysis.Analyzer, opts analysis.Options, logRepo repository.AnalysisLogRepository, l *zap.Logger) Relay {
	metrics.Init()
	return &relayUseCase{
		analyzer: analyzer,
		opts:     opts,
		logRepo:  logRepo,
		logger:   logger.OrNop(l),
	}
}

type rawEnvelope struct {
	Type      any             `json:"type"`
	RequestID any             `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

func (uc *relayUseCase) HandleRaw(ctx context.Context, raw []byte) entity.Response {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return invalidMessage("message is not a JSON object")
	}
	id, _ := env.RequestID.(string)
	typ, _ := env.Type.(string)
	return uc.Handle(ctx, entity.Request{Type: entity.MessageType(typ), RequestID: id, Payload: env.Payload})
}

func (uc *relayUseCase) Handle(ctx context.Context, req entity.Request) entity.Response {
	if req.RequestID == "" {
		return invalidMessage("requestId must be a non-empty string")
	}
	switch req.Type {
	case entity.MessagePing:
		return success(req, entity.PingResult{Pong: true})
	case entity.MessageAnalyzeImage:
		return uc.analyze(ctx, req)
	default:
		return invalidMessage("Unsupported message type")
	}
}

func (uc *relayUseCase) analyze(ctx context.Context, req entity.Request) entity.Response {
	var payload struct {
		ImageURL *string `json:"imageUrl"`
		PageURL  *string `json:"pageUrl"`
	}
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &payload) != nil ||
		payload.ImageURL == nil || payload.PageURL == nil ||
		!utils.IsHTTPURL(*payload.ImageURL) || !utils.IsHTTPURL(*payload.PageURL) {
		return failure(req, entity.CodeInvalidPayload, false, "imageUrl/pageUrl payload is invalid")
	}
	ar := entity.AnalyzeRequest{ImageURL: *payload.ImageURL, PageURL: *payload.PageURL}

	start := time.Now()
	res, err := uc.analyzer.Analyze(ctx, ar, uc.opts)
	elapsed := time.Since(start)

	if err != nil {
		code, retryable, msg := classify(err)
		metrics.AnalysesTotal.WithLabelValues("failure", string(code)).Inc()
		uc.logger.Error("Image analysis failed",
			zap.String("image_url", ar.ImageURL),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		uc.record(ar, &entity.AnalysisRecord{
			Status:       entity.RecordError,
			ErrorCode:    code,
			ErrorMessage: msg,
			LatencyMs:    elapsed.Milliseconds(),
		})
		return failure(req, code, retryable, msg)
	}

	metrics.AnalysesTotal.WithLabelValues("success", "").Inc()
	metrics.AnalysisDuration.WithLabelValues(string(res.Source)).Observe(elapsed.Seconds())
	uc.logger.Info("Image analyzed",
		zap.String("image_url", ar.ImageURL),
		zap.String("source", string(res.Source)),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
	)
	data := entity.AnalyzeResult{AltText: res.AltText, Source: res.Source, LatencyMs: elapsed.Milliseconds()}
	uc.record(ar, &entity.AnalysisRecord{
		Status:    entity.RecordCompleted,
		AltText:   data.AltText,
		Source:    data.Source,
		LatencyMs: data.LatencyMs,
	})
	return success(req, data)
}

func (uc *relayUseCase) LastAnalysis(ctx context.Context, imageURL string) (*entity.AnalysisRecord, error) {
	if uc.logRepo == nil {
		return nil, repository.ErrRecordNotFound
	}
	return uc.logRepo.FindByURL(ctx, imageURL)
}

// record writes the audit row without holding up the response for long.
func (uc *relayUseCase) record(ar entity.AnalyzeRequest, rec *entity.AnalysisRecord) {
	if uc.logRepo == nil {
		return
	}
	rec.ImageURL = ar.ImageURL
	rec.PageURL = ar.PageURL
	rec.AnalyzedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := uc.logRepo.Save(ctx, rec); err != nil {
		uc.logger.Warn("Failed to save analysis record", zap.String("image_url", ar.ImageURL), zap.Error(err))
	}
}

// classify maps analyzer failures onto relay error codes.
func classify(err error) (entity.ErrorCode, bool, string) {
	var ce *analysis.ClientError
	if errors.As(err, &ce) {
		switch ce.Code {
		case entity.CodeNetworkError, entity.CodeTimeout, entity.CodeServerError:
			return ce.Code, ce.Retryable, ce.Error()
		}
		return entity.CodeUnknownError, false, ce.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.CodeTimeout, true, err.Error()
	}
	return entity.CodeUnknownError, false, err.Error()
}

func success(req entity.Request, data any) entity.Response {
	body, err := json.Marshal(data)
	if err != nil {
		return failure(req, entity.CodeUnknownError, false, fmt.Sprintf("encode response: %v", err))
	}
	return entity.Response{Success: true, Type: req.Type, RequestID: req.RequestID, Data: body}
}

func failure(req entity.Request, code entity.ErrorCode, retryable bool, msg string) entity.Response {
	return entity.Response{
		Success:   false,
		Type:      req.Type,
		RequestID: req.RequestID,
		Error:     &entity.ResponseError{Code: code, Message: msg, Retryable: retryable},
	}
}

func invalidMessage(msg string) entity.Response {
	return failure(entity.Request{Type: entity.MessagePing, RequestID: unknownRequestID}, entity.CodeInvalidMessage, false, msg)
}
