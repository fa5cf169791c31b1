package providers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// RateLimitError carries the throttling hints a provider returned with a 429.
type RateLimitError struct {
	Provider               string
	StatusCode             int
	RetryAfter             string
	RateLimitRequestsReset string
	RateLimitTokensReset   string
	Headers                map[string]string
	Err                    error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited (status %d, retry-after %q): %v", e.Provider, e.StatusCode, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// classifyError turns SDK API errors with status 429 into *RateLimitError and
// prefixes everything else with the provider name.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var resp *http.Response
	var status int
	var oaErr *openai.Error
	var anErr *anthropic.Error
	switch {
	case errors.As(err, &oaErr):
		status, resp = oaErr.StatusCode, oaErr.Response
	case errors.As(err, &anErr):
		status, resp = anErr.StatusCode, anErr.Response
	}

	if status != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", provider, err)
	}

	rl := &RateLimitError{Provider: provider, StatusCode: status, Err: err, Headers: map[string]string{}}
	if resp != nil {
		for _, key := range []string{"Retry-After", "X-RateLimit-Requests-Reset", "X-RateLimit-Tokens-Reset"} {
			if v := resp.Header.Get(key); v != "" {
				rl.Headers[key] = v
			}
		}
		rl.RetryAfter = rl.Headers["Retry-After"]
		rl.RateLimitRequestsReset = rl.Headers["X-RateLimit-Requests-Reset"]
		rl.RateLimitTokensReset = rl.Headers["X-RateLimit-Tokens-Reset"]
	}
	return rl
}
