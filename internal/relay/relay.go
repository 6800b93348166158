// Package relay carries analysis requests between the page pipeline and
// the process that talks to the description service.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/entity"
	"github.com/user/lumos/pkg/logger"
)

// ErrUnexpectedResponse is returned when a response does not answer the
// request that was sent.
var ErrUnexpectedResponse = errors.New("relay: unexpected response")

// Channel delivers one request and returns its response.
type Channel interface {
	Send(ctx context.Context, req entity.Request) (entity.Response, error)
}

// RemoteError is a failure reported by the other side of the relay.
type RemoteError struct {
	Code      entity.ErrorCode
	Message   string
	Retryable bool
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Messenger builds request envelopes with unique ids and unwraps their
// responses.
type Messenger struct {
	ch     Channel
	newID  func() string
	logger *zap.Logger
}

// NewMessenger creates a messenger over ch.
func NewMessenger(ch Channel, l *zap.Logger) *Messenger {
	return &Messenger{ch: ch, newID: uuid.NewString, logger: logger.OrNop(l)}
}

// SendPing checks that the other side is reachable.
func (m *Messenger) SendPing(ctx context.Context) error {
	data, err := m.roundTrip(ctx, entity.MessagePing, struct{}{})
	if err != nil {
		return err
	}
	var pong entity.PingResult
	if err := json.Unmarshal(data, &pong); err != nil || !pong.Pong {
		return fmt.Errorf("%w: missing pong", ErrUnexpectedResponse)
	}
	return nil
}

// RequestImageAnalysis asks the relay to describe req.ImageURL.
func (m *Messenger) RequestImageAnalysis(ctx context.Context, req entity.AnalyzeRequest) (*entity.AnalyzeResult, error) {
	data, err := m.roundTrip(ctx, entity.MessageAnalyzeImage, req)
	if err != nil {
		return nil, err
	}
	var res entity.AnalyzeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: decode analysis: %v", ErrUnexpectedResponse, err)
	}
	return &res, nil
}

func (m *Messenger) roundTrip(ctx context.Context, typ entity.MessageType, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("relay: encode payload: %w", err)
	}
	req := entity.Request{Type: typ, RequestID: m.newID(), Payload: body}

	res, err := m.ch.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("relay: send %s: %w", typ, err)
	}
	// Rejected envelopes may come back under a placeholder id, so failures
	// are reported before the id is checked.
	if !res.Success {
		if res.Error == nil {
			return nil, &RemoteError{Code: entity.CodeUnknownError, Message: "failure without error details"}
		}
		return nil, &RemoteError{Code: res.Error.Code, Message: res.Error.Message, Retryable: res.Error.Retryable}
	}
	if res.RequestID != req.RequestID {
		m.logger.Warn("Relay response id mismatch",
			zap.String("request_id", req.RequestID),
			zap.String("response_id", res.RequestID),
		)
		return nil, fmt.Errorf("%w: request id %q, got %q", ErrUnexpectedResponse, req.RequestID, res.RequestID)
	}
	if res.Type != typ {
		return nil, fmt.Errorf("%w: type %s, got %s", ErrUnexpectedResponse, typ, res.Type)
	}
	return res.Data, nil
}
