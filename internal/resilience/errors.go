// Package resilience classifies remote-call failures into transport and
// throttling errors and retries throttled calls under a rate limiter.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// TransportError is a network, timeout, or server-side failure. It is not
// retried; the source records it as an error.
type TransportError struct {
	Err        error
	StatusCode int
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport: status %d: %v", e.StatusCode, e.Err)
	}
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err with an optional HTTP status code.
func NewTransportError(err error, statusCode int) *TransportError {
	return &TransportError{Err: err, StatusCode: statusCode}
}

// ThrottledError signals that the remote service asked us to slow down.
type ThrottledError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return "throttled: " + e.Err.Error()
}

func (e *ThrottledError) Unwrap() error {
	return e.Err
}

// NewThrottledError wraps err as a throttling signal.
func NewThrottledError(err error, retryAfter time.Duration) *ThrottledError {
	return &ThrottledError{Err: err, RetryAfter: retryAfter}
}

// IsThrottled reports whether err (or any error in its chain) is a
// ThrottledError.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

// IsTransport reports whether err looks like a transport failure: an explicit
// TransportError, a network timeout, or a reset/refused connection.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return true
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

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Failure kinds reported by Kind.
const (
	KindThrottled = "throttled"
	KindTimeout   = "timeout"
	KindTransport = "transport"
	KindOther     = "other"
)

// Kind names the class of a failed call. Context cancellation and deadlines
// are timeouts even when wrapped by the HTTP client.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsThrottled(err):
		return KindThrottled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case IsTransport(err):
		return KindTransport
	default:
		return KindOther
	}
}

// FromStatus converts a non-2xx HTTP response into a classified error.
// 429 becomes a ThrottledError honoring Retry-After (seconds); everything
// else becomes a TransportError.
func FromStatus(resp *http.Response, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	target := "remote"
	if resp.Request != nil && resp.Request.URL != nil {
		target = resp.Request.Method + " " + resp.Request.URL.Host
	}
	base := fmt.Errorf("%s: status %d: %s", target, resp.StatusCode, snippet)

	if resp.StatusCode == http.StatusTooManyRequests {
		var after time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				after = time.Duration(secs) * time.Second
			}
		}
		return NewThrottledError(base, after)
	}
	return NewTransportError(base, resp.StatusCode)
}
