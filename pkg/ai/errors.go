package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConfigurationError reports a missing or invalid credential. It is raised
// before any network call and is never retried.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

// ErrMissingAPIKey builds the ConfigurationError for an absent credential.
func ErrMissingAPIKey(provider string) error {
	return &ConfigurationError{Provider: provider, Reason: "API key not configured"}
}

// ProviderError captures a non-success transport outcome or a malformed
// response from a vendor.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Provider)
	sb.WriteString(" API error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		sb.WriteString(": ")
		sb.WriteString(body)
	} else if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the upstream status, zero for transport failures.
func (e *ProviderError) HTTPStatusCode() int {
	return e.StatusCode
}

var rateLimitMarkers = []string{"429", "quota", "rate limit", "rate_limit", "resource_exhausted"}

// IsRateLimit reports whether err carries a rate-limit signature: an HTTP 429
// status or a message mentioning a quota or rate limit.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
