// Package llm abstracts the completion backend behind a single capability so
// providers are swappable. Calls are stateless: the caller supplies the full
// context every time.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/odvcencio/issuelens/internal/config"
	"github.com/odvcencio/issuelens/internal/retry"
)

var (
	// ErrUnavailable covers rate limits, 5xx responses and transport failures.
	// Retried with backoff before becoming terminal.
	ErrUnavailable = errors.New("llm unavailable")
	// ErrRejected covers invalid requests and policy refusals. Never retried.
	ErrRejected = errors.New("llm rejected request")
)

const completionTimeout = 60 * time.Second

// Client sends one (prompt, context) pair to the backend and returns the
// generated text.
type Client interface {
	Complete(ctx context.Context, prompt, contextText string) (string, error)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// New builds the configured backend client.
func New(cfg config.LLMConfig) (Client, error) {
	policy := retry.DefaultPolicy(IsTransient)
	hc := &http.Client{Timeout: completionTimeout}
	switch cfg.Provider {
	case "openai":
		return newOpenAI(cfg, hc, policy), nil
	case "anthropic":
		return newAnthropic(cfg, hc, policy), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

func classifyStatus(status int) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, status)
	}
}
