// Copyright 2023 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package domain

import (
	"context"
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/database"
)

// StateBase defines a base struct for requesting a database. This will cache
// the database for the lifetime of the struct along with any prepared
// statements.
type StateBase struct {
	mu         sync.Mutex
	getDB      database.TxnRunnerFactory
	db         database.TxnRunner
	statements map[string]*sqlair.Statement
}

// NewStateBase returns a new StateBase.
func NewStateBase(getDB database.TxnRunnerFactory) *StateBase {
	return &StateBase{
		getDB:      getDB,
		statements: make(map[string]*sqlair.Statement),
	}
}

// DB returns the database for a given namespace.
func (st *StateBase) DB() (database.TxnRunner, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.getDB == nil {
		return nil, errors.New("nil getDB")
	}

	if st.db == nil {
		var err error
		if st.db, err = st.getDB(); err != nil {
			return nil, errors.Annotate(err, "invoking getDB")
		}
	}

	return st.db, nil
}

// Prepare prepares a SQLair query. If the query has been prepared previously
// it is retrieved from the statement cache.
//
// Note that because the type samples are not considered when retrieving a
// query from the cache, it is an error to prepare two identical queries with
// different type samples in a single State.
func (st *StateBase) Prepare(query string, typeSamples ...any) (*sqlair.Statement, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if stmt, ok := st.statements[query]; ok {
		return stmt, nil
	}

	stmt, err := sqlair.Prepare(query, typeSamples...)
	if err != nil {
		return nil, errors.Trace(err)
	}

	st.statements[query] = stmt
	return stmt, nil
}

// RunAtomic executes the closure function within the scope of a transaction.
// The closure is passed an AtomicContext that can be passed on to state
// methods of other domains, so that writes to several domains commit or
// roll back together.
func (st *StateBase) RunAtomic(ctx context.Context, fn func(AtomicContext) error) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	return db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		actx := &atomicContext{
			ctx: ctx,
			tx:  tx,
		}
		defer actx.close()

		return fn(actx)
	})
}
