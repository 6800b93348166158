package entity

import "encoding/json"

// MessageType names a relay operation.
type MessageType string

const (
	MessagePing         MessageType = "PING"
	MessageAnalyzeImage MessageType = "ANALYZE_IMAGE"
)

// ErrorCode classifies relay and analysis failures.
type ErrorCode string

const (
	CodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	CodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	CodeNetworkError   ErrorCode = "NETWORK_ERROR"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeServerError    ErrorCode = "SERVER_ERROR"
	CodeUnknownError   ErrorCode = "UNKNOWN_ERROR"
)

// Retryable reports whether the code describes a transient failure.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeTimeout, CodeNetworkError, CodeServerError:
		return true
	default:
		return false
	}
}

// Request is the relay request envelope.
type Request struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the relay response envelope. Exactly one of Data or Error is
// set, depending on Success.
type Response struct {
	Success   bool            `json:"success"`
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
}

// ResponseError carries a classified failure across the relay.
type ResponseError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// PingResult is the data of a successful PING.
type PingResult struct {
	Pong bool `json:"pong"`
}
