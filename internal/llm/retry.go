package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// PolicyConfig configures retries and client-side rate limiting for
// collaborator calls.
type PolicyConfig struct {
	// MaxAttempts bounds calls per operation, including the first. Values
	// below 1 mean a single attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RequestsPerMinute caps the call rate across all goroutines sharing the
	// policy. Zero disables the limit.
	RequestsPerMinute float64
}

// Policy retries failed provider calls with exponential backoff and spaces
// calls through a token bucket. A nil *Policy makes one unlimited attempt.
type Policy struct {
	cfg     PolicyConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewPolicy builds a Policy from cfg.
func NewPolicy(cfg PolicyConfig, logger *slog.Logger) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Policy{cfg: cfg, logger: logger}
	if cfg.RequestsPerMinute > 0 {
		every := time.Duration(float64(time.Minute) / cfg.RequestsPerMinute)
		p.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
	return p
}

// Do runs call until it succeeds, returns a permanent error, or the attempt
// budget is spent. Context errors are never retried.
func (p *Policy) Do(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	if p == nil {
		return call(ctx)
	}
	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialInterval > 0 {
		b.InitialInterval = p.cfg.InitialInterval
	}
	if p.cfg.MaxInterval > 0 {
		b.MaxInterval = p.cfg.MaxInterval
	}
	op := func() (string, error) {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return "", backoff.Permanent(fmt.Errorf("llm: rate limit wait: %w", err))
			}
		}
		out, err := call(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.logger.Warn("llm call failed; retrying", "error", err, "wait", wait)
		}),
	)
}
