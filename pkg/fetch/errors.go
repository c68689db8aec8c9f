package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// maxSnippetLength bounds the response body excerpt carried by HTTPError.
const maxSnippetLength = 512

// errInvalidJSON marks a 2xx response whose body could not be parsed as JSON.
var errInvalidJSON = errors.New("response body is not valid JSON")

// HTTPError describes a failed call after the retry policy gave up.
// Status is 0 for transport failures and 408 for per-attempt timeouts.
type HTTPError struct {
	Err           error
	URL           string
	Method        string
	Snippet       string
	Status        int
	Attempt       int
	RetryAfter    time.Duration
	HasRetryAfter bool
	Timeout       bool
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: ", e.Method, e.URL)
	switch {
	case e.Timeout:
		msg += "request timed out"
	case e.Status == 0:
		msg += "request failed"
	default:
		msg += fmt.Sprintf("http %d", e.Status)
	}
	msg += fmt.Sprintf(" (attempt %d)", e.Attempt)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Snippet != "" {
		msg += ": " + e.Snippet
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status is one the retry policy handles:
// 429 or any 5xx. Timeouts are never retried.
func (e *HTTPError) Retryable() bool {
	if e.Timeout {
		return false
	}
	return e.Status == http.StatusTooManyRequests ||
		(e.Status >= http.StatusInternalServerError && e.Status < 600)
}

// IsTimeout reports whether err is a per-attempt timeout from the fetch layer.
func IsTimeout(err error) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.Timeout
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an HTTPError.
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Status
	}
	return 0
}

func snippet(body []byte) string {
	if len(body) > maxSnippetLength {
		return string(body[:maxSnippetLength]) + "..."
	}
	return string(body)
}
