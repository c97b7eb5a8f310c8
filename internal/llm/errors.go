package llm

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/trackbot/backend/pkg/circuitbreaker"
)

var (
	ErrRateLimited        = errors.New("llm: rate limited")
	ErrInvalidCredentials = errors.New("llm: invalid credentials")
	ErrUnavailable        = errors.New("llm: service unavailable")
)

// StatusCode extracts the HTTP status of an OpenAI API failure, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// classifyError tags an upstream failure with one of the package sentinels so
// callers can branch with errors.Is.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	switch StatusCode(err) {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidCredentials, err)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// tripsBreaker reports whether an error reflects upstream health rather than the request itself.
func tripsBreaker(err error) bool {
	return !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrInvalidCredentials)
}
