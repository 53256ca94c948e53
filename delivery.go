package dumpload

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy controls how a failed delivery is retried. Every field is
// optional; zero values fall back to the defaults.
//
// Example:
//
//	policy := dumpload.RetryPolicy{
//	    MaxAttempts: 8,
//	    Backoff:     dumpload.LinearBackoff(time.Second),
//	    Retryable: func(err error) bool {
//	        return dumpload.IsRetryable(err) || errors.Is(err, errStaleLease)
//	    },
//	}
//	p := dumpload.New(locator, sink).WithRetryPolicy(policy)
type RetryPolicy struct {
	// MaxAttempts is the total number of delivery attempts per batch,
	// including the first.
	MaxAttempts int

	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration

	// Retryable classifies a sink failure. Non-retryable failures end the
	// run immediately.
	Retryable func(err error) bool
}

// LinearBackoff waits base * attempt after each failed attempt.
func LinearBackoff(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxRetries,
		Backoff:     LinearBackoff(DefaultBaseDelay),
		Retryable:   IsRetryable,
	}
}

func (rp RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if rp.MaxAttempts < 1 {
		rp.MaxAttempts = def.MaxAttempts
	}
	if rp.Backoff == nil {
		rp.Backoff = def.Backoff
	}
	if rp.Retryable == nil {
		rp.Retryable = def.Retryable
	}
	return rp
}

// deliverer sends one batch at a time to the sink, retrying the whole batch
// with the same (download id, index) on retryable failures.
type deliverer struct {
	sink     Sink
	policy   RetryPolicy
	limiter  *rate.Limiter
	observer DeliveryObserver
	stats    *Stats
	logger   *slog.Logger
}

// deliver returns the sink's outcome, or a *DeliveryError once the batch
// failed terminally or ran out of attempts.
func (d *deliverer) deliver(ctx context.Context, batch Batch) (Outcome, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, d.fail(batch, attempt, false, false, err)
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return Outcome{}, d.fail(batch, attempt, false, false, err)
			}
		}

		outcome, err := d.sink.Deliver(ctx, batch)
		if err == nil {
			if d.observer != nil {
				d.observer.OnDelivered(ctx, batch, outcome, attempt)
			}
			return outcome, nil
		}

		retryable := d.policy.Retryable(err)
		if !retryable || ctx.Err() != nil {
			return Outcome{}, d.fail(batch, attempt, retryable, false, err)
		}
		if attempt >= d.policy.MaxAttempts {
			return Outcome{}, d.fail(batch, attempt, true, true, err)
		}

		delay := d.policy.Backoff(attempt)
		d.logger.WarnContext(ctx, "batch delivery failed, retrying",
			"batch_index", batch.Index,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		d.stats.incRetries()
		if d.observer != nil {
			d.observer.OnRetry(ctx, batch, attempt, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return Outcome{}, d.fail(batch, attempt, true, false, err)
		}
	}
}

func (d *deliverer) fail(batch Batch, attempts int, retryable, exhausted bool, err error) error {
	return &DeliveryError{
		DownloadID: batch.DownloadID,
		BatchIndex: batch.Index,
		Attempts:   attempts,
		Retryable:  retryable,
		Exhausted:  exhausted,
		Err:        err,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
