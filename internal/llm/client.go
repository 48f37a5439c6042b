package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Veraticus/mailtally/internal/common"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single-turn completion request.
type Request struct {
	// Schema is an optional JSON schema for providers that support constrained output.
	Schema map[string]any
	System string
	User   string
}

// Config holds provider settings.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	RateLimit   int // requests per minute, 0 disables limiting
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// StatusError is a non-2xx HTTP response from a provider.
type StatusError struct {
	Provider string
	Body     string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Code, e.Body)
}

// checkStatus converts an HTTP status into an error. Client errors other than
// rate limiting will not succeed on retry and are marked permanent.
func checkStatus(provider string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := &StatusError{Provider: provider, Code: code, Body: truncate(string(body), 500)}
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	}
	if code >= 400 && code < 500 {
		return common.Permanent(err)
	}
	return err
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
