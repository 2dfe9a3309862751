// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	"github.com/mattn/go-sqlite3"

	coredatabase "github.com/canonical/vetpay/core/database"
	"github.com/canonical/vetpay/internal/database/txn"
)

// Open opens the sqlite ledger database at the given path. Every
// transaction takes the write lock up front so that concurrent read-then-
// write transactions serialise instead of failing on lock upgrade.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.NotValidf("empty database path")
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening database %q", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Annotatef(err, "pinging database %q", path)
	}
	return db, nil
}

type txnRunner struct {
	db     *sqlair.DB
	runner *txn.RetryingTxnRunner
}

// NewTxnRunner returns a TxnRunner for the given database. Transactions
// that fail with transient errors are retried from the start.
func NewTxnRunner(db *sql.DB, opts ...txn.Option) coredatabase.TxnRunner {
	return &txnRunner{
		db:     sqlair.NewDB(db),
		runner: txn.NewRetryingTxnRunner(opts...),
	}
}

// Txn is part of the coredatabase.TxnRunner interface.
func (t *txnRunner) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return t.runner.Retry(ctx, func() error {
		return errors.Trace(t.runner.Txn(ctx, t.db, fn))
	})
}

// StdTxn is part of the coredatabase.TxnRunner interface.
func (t *txnRunner) StdTxn(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return t.runner.Retry(ctx, func() error {
		return errors.Trace(t.runner.StdTxn(ctx, t.db.PlainDB(), fn))
	})
}

// TxnRunnerFactory returns a factory that always hands out the given runner.
func TxnRunnerFactory(runner coredatabase.TxnRunner) coredatabase.TxnRunnerFactory {
	return func() (coredatabase.TxnRunner, error) {
		if runner == nil {
			return nil, errors.New("nil txn runner")
		}
		return runner, nil
	}
}

// IsErrConstraintUnique reports whether the error is a unique or primary
// key constraint violation.
func IsErrConstraintUnique(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsErrConstraintCheck reports whether the error is a CHECK constraint
// violation.
func IsErrConstraintCheck(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck
}
