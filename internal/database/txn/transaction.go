// Copyright 2023 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"

	"github.com/canonical/vetpay/core/logger"
)

const (
	defaultAttempts = 250
	defaultDelay    = time.Millisecond
	defaultMaxDelay = 100 * time.Millisecond
)

// RetryStrategy runs the input function, retrying it while the returned
// error is transient.
type RetryStrategy func(context.Context, func() error) error

// Option configures a RetryingTxnRunner.
type Option func(*option)

type option struct {
	logger        logger.Logger
	retryStrategy RetryStrategy
}

// WithLogger sets the logger used by the transaction runner.
func WithLogger(logger logger.Logger) Option {
	return func(o *option) {
		o.logger = logger
	}
}

// WithRetryStrategy overrides the strategy used by Retry.
func WithRetryStrategy(strategy RetryStrategy) Option {
	return func(o *option) {
		o.retryStrategy = strategy
	}
}

func newOptions() *option {
	logger := loggo.GetLogger("vetpay.database.txn")
	return &option{
		logger:        logger,
		retryStrategy: DefaultRetryStrategy(clock.WallClock, logger),
	}
}

// RetryingTxnRunner runs transactions against a database, retrying the
// whole transaction when the database reports a transient failure.
type RetryingTxnRunner struct {
	logger        logger.Logger
	retryStrategy RetryStrategy
}

// NewRetryingTxnRunner returns a new RetryingTxnRunner.
func NewRetryingTxnRunner(opts ...Option) *RetryingTxnRunner {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &RetryingTxnRunner{
		logger:        o.logger,
		retryStrategy: o.retryStrategy,
	}
}

// Txn executes the input function against the sqlair database within a
// transaction. The transaction is rolled back if the function returns an
// error, otherwise it is committed. No retries are attempted.
func (t *RetryingTxnRunner) Txn(ctx context.Context, db *sqlair.DB, fn func(context.Context, *sqlair.TX) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	tx, err := db.Begin(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.logger.Debugf("rolling back transaction: %v", rbErr)
		}
		return errors.Trace(err)
	}
	return errors.Trace(tx.Commit())
}

// StdTxn executes the input function against the database within a
// transaction, using the standard library sql types.
func (t *RetryingTxnRunner) StdTxn(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.logger.Debugf("rolling back transaction: %v", rbErr)
		}
		return errors.Trace(err)
	}
	return errors.Trace(tx.Commit())
}

// Retry runs the input function using the configured retry strategy.
func (t *RetryingTxnRunner) Retry(ctx context.Context, fn func() error) error {
	return t.retryStrategy(ctx, fn)
}

// DefaultRetryStrategy returns a strategy that retries busy and locked
// database errors with a doubling delay.
func DefaultRetryStrategy(clock clock.Clock, logger logger.Logger) RetryStrategy {
	return func(ctx context.Context, fn func() error) error {
		return retry.Call(retry.CallArgs{
			Func: fn,
			IsFatalError: func(err error) bool {
				return ctx.Err() != nil || !IsErrRetryable(err)
			},
			NotifyFunc: func(err error, attempt int) {
				logger.Debugf("attempt %d: retrying transaction: %v", attempt, err)
			},
			Attempts:    defaultAttempts,
			Delay:       defaultDelay,
			MaxDelay:    defaultMaxDelay,
			BackoffFunc: retry.DoubleDelay,
			Clock:       clock,
			Stop:        ctx.Done(),
		})
	}
}

// IsErrRetryable reports whether the error is a transient database error
// that is worth retrying the transaction for.
func IsErrRetryable(err error) bool {
	if err == nil {
		return false
	}

	var errNo sqlite3.ErrNo
	if errors.As(err, &errNo) {
		return errNo == sqlite3.ErrBusy || errNo == sqlite3.ErrLocked
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "cannot start a transaction within a transaction") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "checkpoint in progress")
}
