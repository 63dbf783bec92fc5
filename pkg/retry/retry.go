// Package retry provides retry logic with exponential backoff for storage operations
// that sit above the transport, such as reopening a broken read stream.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/objectfs/objstore/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts including the first one
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier grows the delay after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter draws each delay from [delay/2, delay]
	Jitter bool `yaml:"jitter" json:"jitter"`

	// IsRetryable overrides Retryable when set
	IsRetryable func(err error) bool `yaml:"-" json:"-"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the backoff used for transient storage failures.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// StreamReopen returns the configuration for reopening a broken object
// stream at most retries times. Only StorageRead failures are retried:
// errors of the reopen request itself already went through the transport
// retryer.
func StreamReopen(retries int) Config {
	return Config{
		MaxAttempts:  retries + 1,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		IsRetryable: func(err error) bool {
			return errors.HasCode(err, errors.ErrCodeStorageRead)
		},
	}
}

// throttlingCodes are provider error codes asking the client to back off.
var throttlingCodes = map[string]bool{
	"SlowDown":           true,
	"RequestTimeout":     true,
	"InternalError":      true,
	"ServiceUnavailable": true,
	"Throttling":         true,
	"TooManyRequests":    true,
}

// Retryable reports whether err is worth another attempt: a StorageError
// marked retryable or a provider error with a throttling code. Absent
// objects, rejected arguments and plain errors are not.
func Retryable(err error) bool {
	se, ok := errors.AsStorageError(err)
	if !ok {
		return false
	}
	if se.Retryable {
		return true
	}
	return throttlingCodes[errors.ProviderCode(err)]
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	if config.IsRetryable == nil {
		config.IsRetryable = Retryable
	}

	return &Retryer{config: config}
}

// MaxAttempts returns the configured attempt budget.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}

// DoWithContext runs fn until it succeeds, fails with an error that is not
// retryable, or the attempt budget is spent. Exhaustion is reported as
// RetryExhausted caused by the last failure; cancellation while waiting as
// OperationCanceled.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	delay := r.config.InitialDelay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return canceled(attempt-1, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !r.config.IsRetryable(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			return errors.NewError(errors.ErrCodeRetryExhausted,
				fmt.Sprintf("gave up after %d attempts", attempt)).
				WithDetail("attempts", attempt).
				WithCause(err)
		}

		wait := r.jitter(delay)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, wait)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return canceled(attempt, ctx.Err())
			case <-timer.C:
			}
		}
		delay = r.next(delay)
	}
}

func (r *Retryer) next(delay time.Duration) time.Duration {
	grown := time.Duration(float64(delay) * r.config.Multiplier)
	if grown > r.config.MaxDelay || grown < delay {
		return r.config.MaxDelay
	}
	return grown
}

func (r *Retryer) jitter(delay time.Duration) time.Duration {
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if !r.config.Jitter || delay <= 1 {
		return delay
	}
	half := delay / 2
	return half + rand.N(delay-half+1)
}

func canceled(attempts int, cause error) error {
	return errors.NewError(errors.ErrCodeOperationCanceled,
		fmt.Sprintf("canceled after %d attempts", attempts)).
		WithDetail("attempts", attempts).
		WithCause(cause)
}
