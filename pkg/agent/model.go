package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
)

// Backend names accepted by NewModelService.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// ModelConfig is the model endpoint configuration, assembled once at startup.
type ModelConfig struct {
	Backend     string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// NewModelService builds the backend named by cfg.Backend, wrapped with
// retries for transient failures.
func NewModelService(cfg ModelConfig, logger zerolog.Logger) (ModelService, error) {
	var svc ModelService
	switch cfg.Backend {
	case "", BackendOpenAI:
		svc = NewOpenAIService(cfg)
	case BackendAnthropic:
		svc = NewAnthropicService(cfg)
	default:
		return nil, fmt.Errorf("unsupported model backend: %s", cfg.Backend)
	}
	if cfg.MaxRetries > 1 {
		svc = WithRetry(svc, cfg.MaxRetries, time.Second, logger)
	}
	return svc, nil
}

type retryingService struct {
	next       ModelService
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
}

// WithRetry retries transient model failures with exponential backoff.
func WithRetry(next ModelService, maxRetries int, baseDelay time.Duration, logger zerolog.Logger) ModelService {
	return &retryingService{next: next, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

func (r *retryingService) Backend() string {
	return r.next.Backend()
}

func (r *retryingService) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		reply, err := r.next.Complete(ctx, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == r.maxRetries-1 {
			break
		}

		delay := r.baseDelay * time.Duration(1<<attempt)
		r.logger.Info().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying model call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// IsRetryableError reports whether a model failure is worth retrying: rate
// limits, server errors and network timeouts.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.StatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return retryableStatus(anErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
