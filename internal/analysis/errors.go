package analysis

import (
	"errors"
	"fmt"

	"github.com/user/lumos/internal/entity"
)

// ErrMissingBaseURL is returned when api mode has no base URL configured
// and the configured policy is to fail.
var ErrMissingBaseURL = errors.New("analysis: LUMOS_API_BASE_URL is not set")

// ClientError is a classified analysis failure.
type ClientError struct {
	Code       entity.ErrorCode
	Message    string
	Retryable  bool
	StatusCode int // zero when no response was received
	Attempts   int
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis %s (http %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("analysis %s: %s", e.Code, e.Message)
}

func (e *ClientError) Unwrap() error { return e.Err }

func newError(code entity.ErrorCode, status int, msg string, err error) *ClientError {
	return &ClientError{
		Code:       code,
		Message:    msg,
		Retryable:  code.Retryable(),
		StatusCode: status,
		Err:        err,
	}
}

// CodeOf returns the classification of err, UNKNOWN_ERROR when err is not
// a ClientError.
func CodeOf(err error) entity.ErrorCode {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return entity.CodeUnknownError
}
