// Package ai wraps an external text-completion service with process-wide
// throttling, bounded retry on quota errors and deterministic fallback
// content on exhaustion.
package ai

import (
	"context"
	"time"

	"go.uber.org/zap"

	"devorchestra/internal/metrics"
)

// ClientConfig tunes retry behavior.
type ClientConfig struct {
	// MaxAttempts is the total attempt budget per completion call.
	MaxAttempts int
	// DefaultRetryDelay applies when a quota error names no delay.
	DefaultRetryDelay time.Duration
}

// DefaultClientConfig mirrors the external quota's published limits.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxAttempts:       3,
		DefaultRetryDelay: 30 * time.Second,
	}
}

// Client is the rate-limited completion client. All instances share one
// Throttle so concurrent pipelines respect a single global quota.
type Client struct {
	provider Provider
	throttle *Throttle
	cfg      ClientConfig
	log      *zap.Logger
}

// NewClient creates a completion client. A nil provider is allowed and makes
// Complete return ErrModelUnavailable.
func NewClient(provider Provider, throttle *Throttle, cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DefaultRetryDelay <= 0 {
		cfg.DefaultRetryDelay = 30 * time.Second
	}
	return &Client{
		provider: provider,
		throttle: throttle,
		cfg:      cfg,
		log:      log,
	}
}

// Available reports whether a provider is configured.
func (c *Client) Available() bool {
	return c.provider != nil
}

// Complete issues one completion call for the given role. Quota errors are
// retried with extracted or default backoff up to the attempt budget; on
// exhaustion, or on any non-retryable provider failure, the role's
// deterministic fallback envelope is returned with a nil error. The only
// error returns are ErrModelUnavailable and context cancellation.
func (c *Client) Complete(ctx context.Context, prompt string, role Role) (*Envelope, error) {
	if c.provider == nil {
		metrics.CompletionRequests.WithLabelValues(string(role), "error").Inc()
		return nil, ErrModelUnavailable
	}

	instruction := systemInstruction(role, prompt)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}

		text, err := c.provider.Generate(ctx, instruction)
		if err == nil {
			metrics.CompletionRequests.WithLabelValues(string(role), "success").Inc()
			return envelope(role, StripFences(text), false), nil
		}

		if !IsQuotaError(err) {
			c.log.Warn("completion failed, serving fallback",
				zap.String("role", string(role)), zap.Error(err))
			break
		}

		if attempt == c.cfg.MaxAttempts {
			c.log.Warn("quota exhausted after max retries, serving fallback",
				zap.String("role", string(role)), zap.Int("attempts", attempt))
			break
		}

		delay := ExtractRetryDelay(err, c.cfg.DefaultRetryDelay)
		c.log.Info("rate limit hit, backing off",
			zap.String("role", string(role)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		metrics.CompletionRetries.Inc()

		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	metrics.CompletionRequests.WithLabelValues(string(role), "fallback").Inc()
	metrics.FallbackResponses.WithLabelValues(string(role)).Inc()
	return FallbackEnvelope(role), nil
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
