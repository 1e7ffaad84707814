// Package provider holds what the model provider adapters share.
package provider

import (
	"net/http"
	"strconv"
	"time"

	"github.com/spetersoncode/hanabi"
)

// Categorize maps an HTTP status code to an error category.
func Categorize(code int) hanabi.ErrorCategory {
	switch {
	case code == http.StatusTooManyRequests:
		return hanabi.ErrorTransient
	case code >= 500 && code < 600:
		return hanabi.ErrorTransient
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return hanabi.ErrorPermanent
	case code == http.StatusBadRequest || code == http.StatusNotFound || code == http.StatusUnprocessableEntity:
		return hanabi.ErrorUserInput
	default:
		return hanabi.ErrorPermanent
	}
}

// RetryAfter reads the Retry-After header of resp. It returns 0 when the
// header is absent or unparsable.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return 0
}

// Wrap turns an API failure into a categorized *hanabi.Error.
func Wrap(err error, code int, resp *http.Response) error {
	retryAfter := RetryAfter(resp)
	cat := Categorize(code)
	if retryAfter > 0 {
		cat = hanabi.ErrorTransient
	}
	return hanabi.NewProviderError(cat, "provider request failed", code, retryAfter, err)
}
