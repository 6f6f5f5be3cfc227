package news

import (
	"errors"
	"fmt"
)

// ErrorKind tags a pipeline failure so callers can branch on it.
type ErrorKind string

// Error kinds.
const (
	KindConfiguration       ErrorKind = "configuration"
	KindUpstreamRejected    ErrorKind = "upstream_rejected"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindWriteFailure        ErrorKind = "write_failure"
	KindUnknown             ErrorKind = "unknown"
)

var (
	// ErrMissingCredential is returned when no upstream API key is configured.
	ErrMissingCredential = errors.New("upstream api key is not configured")
	// ErrNotFound is returned by stores when no article has the requested id.
	ErrNotFound = errors.New("article not found")
)

// Error is a tagged pipeline failure.
type Error struct {
	Kind ErrorKind
	// Code and Message are set for upstream rejections.
	Code    string
	Message string
	// StatusCode is the HTTP status for unavailable upstreams; 0 when no
	// response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstreamRejected:
		return fmt.Sprintf("upstream rejected request: code=%q message=%q", e.Code, e.Message)
	case KindUpstreamUnavailable:
		if e.Err != nil {
			return fmt.Sprintf("upstream unavailable (status %d): %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("upstream unavailable (status %d): %s", e.StatusCode, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigurationError wraps err as a configuration failure.
func ConfigurationError(err error) error {
	return &Error{Kind: KindConfiguration, Err: err}
}

// UpstreamRejected builds a rejection carrying the upstream code and message.
func UpstreamRejected(code, message string) error {
	return &Error{Kind: KindUpstreamRejected, Code: code, Message: message}
}

// UpstreamUnavailable builds a transport failure carrying the HTTP status.
func UpstreamUnavailable(status int, message string, err error) error {
	return &Error{Kind: KindUpstreamUnavailable, StatusCode: status, Message: message, Err: err}
}

// WriteFailure wraps a persistence failure.
func WriteFailure(err error) error {
	return &Error{Kind: KindWriteFailure, Err: err}
}

// KindOf classifies err. Errors that carry no tag report KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is tagged with kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
