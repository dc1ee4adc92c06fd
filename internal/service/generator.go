package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"qabatch/internal/core/domain"
	"qabatch/internal/core/ports"
)

// RetryPolicy bounds how often a transient service failure is retried.
// The delay before retry n (1-based) is BaseDelay * 2^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the service's usual rate-limit recovery time.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// NewBackOff returns a fresh deterministic exponential backoff for one call.
func (p RetryPolicy) NewBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.MaxElapsedTime = 0

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Generator implements ports.Generator over a single-shot Completer.
type Generator struct {
	completer ports.Completer
	policy    RetryPolicy
	timer     backoff.Timer
	logger    *zap.Logger
	metrics   *Metrics
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithTimer replaces the wall-clock backoff timer, e.g. with a fake in tests.
func WithTimer(t backoff.Timer) GeneratorOption {
	return func(g *Generator) { g.timer = t }
}

// WithGeneratorMetrics records attempts and retries.
func WithGeneratorMetrics(m *Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// NewGenerator creates a Generator.
func NewGenerator(completer ports.Completer, policy RetryPolicy, logger *zap.Logger, opts ...GeneratorOption) *Generator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	g := &Generator{
		completer: completer,
		policy:    policy,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate calls the service, retrying transient failures with exponential
// backoff. Non-transient failures are returned at once. Every failure is a
// generation error carrying the last cause.
func (g *Generator) Generate(ctx context.Context, prompt string, locators []domain.MediaLocator) (string, error) {
	urls := domain.URLs(locators)

	var (
		text     string
		attempts int
	)
	operation := func() error {
		attempts++
		g.metrics.attempt(ctx)
		out, err := g.completer.Complete(ctx, prompt, urls)
		if err == nil {
			text = out
			return nil
		}
		if !domain.IsTransient(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		g.metrics.retry(ctx)
		g.logger.Warn("generation attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", g.policy.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotifyWithTimer(operation, g.policy.NewBackOff(ctx), notify, g.timer)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return "", domain.GenerationError(attempts, err)
	}
	return text, nil
}
