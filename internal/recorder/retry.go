package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMinTimeout = 150 * time.Millisecond
	DefaultMaxTimeout = 10 * time.Second
	defaultFactor     = 2
)

// RetryPolicy decides whether and how often a failing task is re-run.
type RetryPolicy struct {
	Retries    int
	MinTimeout time.Duration
	MaxTimeout time.Duration
	Factor     float64
	// When filters eligible errors. Nil retries any error.
	When func(error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MinTimeout <= 0 {
		p.MinTimeout = DefaultMinTimeout
	}
	if p.MaxTimeout <= 0 {
		p.MaxTimeout = DefaultMaxTimeout
	}
	if p.MaxTimeout < p.MinTimeout {
		p.MaxTimeout = p.MinTimeout
	}
	if p.Factor <= 0 {
		p.Factor = defaultFactor
	}
	return p
}

// eligible consults policies from the most recently pushed to the oldest.
func eligible(policies []RetryPolicy, err error) bool {
	for i := len(policies) - 1; i >= 0; i-- {
		when := policies[i].When
		if when == nil || when(err) {
			return true
		}
	}
	return false
}

func (r *Recorder) runWithRetryPolicy(ctx context.Context, e *entry) (any, error) {
	r.mu.Lock()
	policies := make([]RetryPolicy, len(r.retries))
	copy(policies, r.retries)
	queue := r.queueID
	r.mu.Unlock()

	if len(policies) == 0 || e.name == "" || !e.retryable {
		return r.call(ctx, e)
	}

	top := policies[len(policies)-1].withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = top.MinTimeout
	b.MaxInterval = top.MaxTimeout
	b.Multiplier = top.Factor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var (
		val     any
		attempt int
	)
	op := func() error {
		attempt++
		if attempt > 1 {
			r.logger.Info("retrying task",
				slog.Int("queue", queue),
				slog.String("task", e.name),
				slog.Int("attempt", attempt))
		}
		v, err := r.call(ctx, e)
		if err == nil {
			val = v
			return nil
		}
		if !eligible(policies, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	retries := uint64(0)
	if top.Retries > 0 {
		retries = uint64(top.Retries)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return val, nil
}
