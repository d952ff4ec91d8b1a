package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrSessionNotFound is an error thrown when session is not found
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionCancelled is an error thrown when adding tasks to a cancelled session
var ErrSessionCancelled = errors.New("session cancelled")

// ErrTaskNotFound is an error thrown when task is not found
var ErrTaskNotFound = errors.New("task not found")

// ErrNilPayload is an error thrown when a file has no payload
var ErrNilPayload = errors.New("file payload is nil")

// ErrNoFiles is an error thrown when a batch upload has no file
var ErrNoFiles = errors.New("no files to upload")

// ErrQueueClosed is an error thrown when enqueueing on a closed queue
var ErrQueueClosed = errors.New("queue closed")

// ErrChunkAssembly is an error thrown when a chunk exhausted its retries
var ErrChunkAssembly = errors.New("chunk retries exhausted")

// ErrInvalidChunkSize is an error thrown when chunk size is not positive
var ErrInvalidChunkSize = errors.New("invalid chunk size")

// ErrRetriesExhausted is an error thrown when all attempts failed
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrInvalidHistoryRecord is an error thrown when journaling a task that is not terminal
var ErrInvalidHistoryRecord = errors.New("invalid history record")

// ErrInvalidResponse is an error thrown when a successful response cannot be read
var ErrInvalidResponse = errors.New("invalid response")

// ErrorClass is the retry classification of a failure
type ErrorClass string

const (
	ErrorClassNone          ErrorClass = ""
	ErrorClassNetwork       ErrorClass = "network"
	ErrorClassTimeout       ErrorClass = "timeout"
	ErrorClassServer        ErrorClass = "server"
	ErrorClassRateLimited   ErrorClass = "rate_limited"
	ErrorClassClientError   ErrorClass = "client_error"
	ErrorClassCancelled     ErrorClass = "cancelled"
	ErrorClassChunkAssembly ErrorClass = "chunk_assembly_failure"
)

// Category returns the human-readable text shown for the class
func (c ErrorClass) Category() string {
	switch c {
	case ErrorClassNetwork:
		return "network unavailable"
	case ErrorClassTimeout:
		return "request timed out"
	case ErrorClassServer:
		return "server error"
	case ErrorClassRateLimited:
		return "too many requests"
	case ErrorClassClientError:
		return "upload rejected"
	case ErrorClassCancelled:
		return "upload cancelled"
	case ErrorClassChunkAssembly:
		return "upload incomplete"
	default:
		return "unknown error"
	}
}

// StatusError is returned by transports when the server answered with a non 2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// UploadError is a classified failure keeping the original error
type UploadError struct {
	Class ErrorClass
	Op    string
	Err   error
}

// NewUploadError classifies err and wraps it
func NewUploadError(op string, err error) *UploadError {
	return &UploadError{Class: Classify(err), Op: op, Err: err}
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class.Category(), e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its ErrorClass
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}

	var uploadErr *UploadError
	if errors.As(err, &uploadErr) && uploadErr.Class != ErrorClassNone {
		return uploadErr.Class
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ClassifyStatus(statusErr.StatusCode)
	}

	switch {
	case errors.Is(err, ErrChunkAssembly):
		return ErrorClassChunkAssembly
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrNilPayload), errors.Is(err, ErrInvalidChunkSize):
		return ErrorClassClientError
	case errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ErrorClassNetwork
	}

	// transport failures without a response
	return ErrorClassNetwork
}

// ClassifyStatus maps an HTTP status code to its ErrorClass
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusRequestTimeout:
		return ErrorClassTimeout
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimited
	case code >= 500:
		return ErrorClassServer
	case code >= 400:
		return ErrorClassClientError
	default:
		return ErrorClassNone
	}
}
