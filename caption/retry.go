package caption

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"captionpipe/visionllm"
)

// Sleeper is an interface for sleeping, allowing tests to override delays.
type Sleeper interface {
	Sleep(d time.Duration)
}

// realSleeper implements Sleeper using time.Sleep.
type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// DefaultSleeper is the production sleeper.
var DefaultSleeper Sleeper = realSleeper{}

// BackoffConfig controls delay calculation between retry attempts.
type BackoffConfig struct {
	InitialDelay time.Duration // first retry delay
	Factor       float64       // multiplier for subsequent delays
	MaxDelay     time.Duration // cap on delay
	Jitter       bool          // add random jitter
}

// DelayForAttempt calculates the delay for a given retry attempt (1-indexed).
func (bc BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	if bc.InitialDelay == 0 {
		return 0
	}
	delay := float64(bc.InitialDelay) * math.Pow(bc.Factor, float64(attempt-1))
	if delay > float64(bc.MaxDelay) {
		delay = float64(bc.MaxDelay)
	}
	if bc.Jitter {
		// jitter: delay * uniform(0.5, 1.5)
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay)
}

// RetryPolicy controls how many times an API call is attempted and how
// delays are calculated between attempts.
type RetryPolicy struct {
	MaxAttempts int // minimum 1 (1 means no retries)
	Backoff     BackoffConfig
}

// DefaultRetryPolicy retries transient API failures twice with jittered
// exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff: BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		Factor:       2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	},
}

// callWithRetry runs an API call with the configured retry policy. Only
// transient errors (rate limits, server errors, network failures) are
// retried; a provider-supplied Retry-After extends the backoff delay.
// onRetry, when non-nil, is invoked before each new attempt.
func callWithRetry(
	ctx context.Context,
	policy RetryPolicy,
	sleeper Sleeper,
	onRetry func(attempt int, delay time.Duration, err error),
	call func(context.Context) (string, error),
) (string, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := call(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !visionllm.IsRetryable(err) || attempt == maxAttempts {
			return "", err
		}
		if ctx.Err() != nil {
			return "", err
		}

		delay := policy.Backoff.DelayForAttempt(attempt)
		if ra := visionllm.RetryAfterSeconds(err); ra > 0 {
			if suggested := time.Duration(ra * float64(time.Second)); suggested > delay {
				delay = suggested
			}
		}
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		sleeper.Sleep(delay)
	}

	return "", lastErr
}
