package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "subscribe")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DecodeError describes a malformed or truncated feed frame.
// It is counted and never fatal.
type DecodeError struct {
	Code      uint8
	Declared  int // declared frame length, 0 if unknown
	Available int // bytes available when the frame was inspected
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame code=%d declared=%d available=%d: %s",
		e.Code, e.Declared, e.Available, e.Reason)
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotFound is returned when a security has no live state.
	ErrNotFound = errors.New("not found")

	// ErrEmptyInstrumentList is fatal at startup: there is nothing to subscribe to.
	ErrEmptyInstrumentList = errors.New("instrument list is empty")

	// ErrInvalidInterval is returned for bucket queries with a non-positive interval.
	ErrInvalidInterval = errors.New("interval must be a positive number of minutes")

	// ErrFrameDesync is returned when the decoder can no longer find frame boundaries.
	ErrFrameDesync = errors.New("feed frame boundary lost")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
