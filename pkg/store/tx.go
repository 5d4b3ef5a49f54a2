package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/internal/metrics"
	"github.com/chainsafe/senate-indexer/pkg/config"
)

const (
	sqlStateSerialization = "40001"
	sqlStateDeadlock      = "40P01"
	connectionReset       = "conn"
)

// TxRunner runs transactions that are retried on serialization failures, deadlocks and dropped
// connections. Every transaction carries a statement timeout.
type TxRunner struct {
	db          *bun.DB
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	logger      *zap.Logger

	// Sleep and Jitter are replaced in tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
}

// NewTxRunner creates a transaction runner from the tx configuration section.
func NewTxRunner(db *bun.DB, cfg config.TxConfig, logger *zap.Logger) *TxRunner {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &TxRunner{
		db:          db,
		maxAttempts: attempts,
		baseDelay:   cfg.BaseDelay,
		timeout:     cfg.Timeout,
		logger:      logger,
		Sleep:       sleepCtx,
		Jitter:      fullJitter,
	}
}

// RunInTx runs fn in a transaction, committing when it returns nil. Retryable failures start
// the whole transaction over after a full-jitter backoff.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := r.Sleep(ctx, r.Jitter(r.baseDelay<<(attempt-1))); serr != nil {
				return fmt.Errorf("transaction aborted: %w", serr)
			}
		}

		err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if r.timeout > 0 {
				stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", r.timeout.Milliseconds())
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to set statement timeout: %w", err)
				}
			}
			return fn(ctx, tx)
		})
		if err == nil {
			return nil
		}

		code, retryable := retryableCode(err)
		if !retryable || ctx.Err() != nil {
			return err
		}
		metrics.TxRetries.WithLabelValues(code).Inc()
		r.logger.Warn("Retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.String("code", code),
			zap.Error(err))
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", r.maxAttempts, err)
}

type sqlStateError interface {
	Field(k byte) string
}

// retryableCode classifies err, returning the SQLSTATE (or "conn" for connection resets)
// when the transaction is worth retrying.
func retryableCode(err error) (string, bool) {
	var pgErr sqlStateError
	if errors.As(err, &pgErr) {
		code := pgErr.Field('C')
		return code, code == sqlStateSerialization || code == sqlStateDeadlock
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) {
		return connectionReset, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return connectionReset, true
	}
	return "", false
}

func fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
