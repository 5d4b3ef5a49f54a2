// Package retry runs outbound calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
)

// ErrFetchExhausted is matched by every error returned after the attempt budget is spent.
var ErrFetchExhausted = errors.New("fetch attempts exhausted")

// ExhaustedError reports the last failure of an exhausted retry loop.
type ExhaustedError struct {
	Target   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Target, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrFetchExhausted, e.Last}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor retries an operation up to MaxAttempts times.
// The delay before attempt n+1 is BaseDelay * 2^n.
type Executor struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *zap.Logger
	Sleep       SleepFunc
}

// New creates an executor for the named target.
func New(name string, maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		Name:        name,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Logger:      logger,
		Sleep:       Sleep,
	}
}

// Delay returns the wait before the next attempt after used attempts have failed.
func (e *Executor) Delay(used int) time.Duration {
	return e.BaseDelay * time.Duration(uint64(1)<<uint(used))
}

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts attempts have failed. op receives the zero-based attempt number.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	return e.run(ctx, nil, op)
}

// DoURL is Do for calls whose target may change between attempts. url is
// resolved before every attempt, passed to op and logged with its outcome.
func (e *Executor) DoURL(ctx context.Context, url func(attempt int) string, op func(ctx context.Context, url string) error) error {
	var target string
	return e.run(ctx, func(attempt int) string {
		target = url(attempt)
		return target
	}, func(ctx context.Context, _ int) error {
		return op(ctx, target)
	})
}

func (e *Executor) run(ctx context.Context, url func(attempt int) string, op func(ctx context.Context, attempt int) error) error {
	logger := e.logger()
	sleep := e.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	maxAttempts := e.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.Delay(attempt - 1)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: retry interrupted: %w", e.Name, err)
			}
		}

		fields := []zap.Field{zap.String("target", e.Name)}
		if url != nil {
			fields = append(fields, zap.String("url", url(attempt)))
		}

		err := op(ctx, attempt)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(e.Name, "success").Inc()
			if attempt > 0 {
				logger.Debug("Call succeeded after retry", append(fields, zap.Int("attempts", attempt+1))...)
			}
			return nil
		}
		metrics.RetryAttempts.WithLabelValues(e.Name, "failure").Inc()
		last = err

		var perm *permanentError
		if errors.As(err, &perm) {
			logger.Warn("Call failed permanently", append(fields,
				zap.Int("attempt", attempt+1),
				zap.Error(perm.err),
			)...)
			return perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}

		logger.Warn("Call attempt failed", append(fields,
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)...)
		if attempt == maxAttempts-1 {
			logger.Error("Call attempts exhausted", append(fields,
				zap.Int("attempts", maxAttempts),
				zap.Error(last),
			)...)
		}
	}

	return &ExhaustedError{Target: e.Name, Attempts: maxAttempts, Last: last}
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Fixed returns a DoURL resolver that targets url on every attempt.
func Fixed(url string) func(attempt int) string {
	return func(int) string { return url }
}
