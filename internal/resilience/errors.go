// Package resilience provides the error taxonomy, retry, and circuit
// breaker patterns shared by every external provider call.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/enrich-cli/internal/model"
)

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout). Retried with backoff up to a cap, then demoted to permanent.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps an error that must not be retried (4xx other than
// 429, malformed response, provider disabled). Recorded against the
// entity; the provider is skipped for the rest of that entity's run.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps an error as permanent.
func NewPermanentError(err error, statusCode int) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode}
}

// SystemicError wraps a precondition failure that aborts the whole
// execution (no providers configured, persistence unavailable).
type SystemicError struct {
	Err error
}

func (e *SystemicError) Error() string { return e.Err.Error() }
func (e *SystemicError) Unwrap() error { return e.Err }

// NewSystemicError wraps an error as systemic.
func NewSystemicError(err error) *SystemicError {
	return &SystemicError{Err: err}
}

// Classify maps an error to its class. Unrecognized errors default to
// permanent: an unknown failure is not retried blindly.
func Classify(err error) model.ErrorClass {
	if err == nil {
		return ""
	}
	var se *SystemicError
	if errors.As(err, &se) {
		return model.ErrorSystemic
	}
	if IsTransient(err) {
		return model.ErrorTransient
	}
	return model.ErrorPermanent
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or matches common transient network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// ClassifyHTTPStatus maps an HTTP status to an error class. 429 and 5xx
// are transient; every other 4xx is permanent.
func ClassifyHTTPStatus(statusCode int) model.ErrorClass {
	switch {
	case statusCode == 429, statusCode == 408, statusCode >= 500:
		return model.ErrorTransient
	case statusCode >= 400:
		return model.ErrorPermanent
	default:
		return ""
	}
}

// IsTransientHTTPStatus reports whether a status code is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	return ClassifyHTTPStatus(statusCode) == model.ErrorTransient
}
