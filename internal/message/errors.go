package message

import (
	"errors"
	"net/http"
)

// Error codes for the dispatch core. Keep stable; they appear in logs and
// in the journal.
const (
	ErrCodeBadRequest         = "switchyard.bad_request"
	ErrCodeNotFound           = "switchyard.not_found"
	ErrCodeTooManyOutstanding = "switchyard.too_many_outstanding"
	ErrCodeRequestTimeout     = "switchyard.request_timeout"
	ErrCodeServiceError       = "switchyard.service_error"
	ErrCodeQueueFull          = "switchyard.queue_full"
	ErrCodeQueueClosed        = "switchyard.queue_closed"
	ErrCodeDuplicateRequest   = "switchyard.duplicate_request"
)

// Code returns an error value that carries only a code string.
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrBadRequest         = Code(ErrCodeBadRequest)
	ErrNotFound           = Code(ErrCodeNotFound)
	ErrTooManyOutstanding = Code(ErrCodeTooManyOutstanding)
	ErrRequestTimeout     = Code(ErrCodeRequestTimeout)
	ErrServiceError       = Code(ErrCodeServiceError)
	ErrQueueFull          = Code(ErrCodeQueueFull)
	ErrQueueClosed        = Code(ErrCodeQueueClosed)
	ErrDuplicateRequest   = Code(ErrCodeDuplicateRequest)
)

// StatusCode maps an error onto the HTTP-equivalent status a transport
// reports for it. A nil error is a success.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooManyOutstanding):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrRequestTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
