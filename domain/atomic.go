// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package domain

import (
	"context"
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
)

// ErrAtomicContextClosed is returned when an atomic context is used after
// the transaction it wraps has finished.
const ErrAtomicContextClosed = errors.ConstError("atomic context closed")

// AtomicContext is a typed context that provides access to the database
// transaction for the duration of a transaction.
type AtomicContext interface {
	// Context returns the underlying context.
	Context() context.Context
}

// AtomicStateBase is an interface that provides a method for executing a
// closure within the scope of a transaction.
type AtomicStateBase interface {
	// RunAtomic executes the closure function within the scope of a
	// transaction. The closure is passed an AtomicContext that can be passed
	// on to state functions, so that they can perform work within that same
	// transaction. The closure will be retried according to the transaction
	// retry semantics, if the transaction fails due to transient errors.
	RunAtomic(ctx context.Context, fn func(AtomicContext) error) error
}

type atomicContext struct {
	ctx context.Context

	mu sync.Mutex
	tx *sqlair.TX
}

// Context returns the underlying context.
func (c *atomicContext) Context() context.Context {
	return c.ctx
}

func (c *atomicContext) close() {
	c.mu.Lock()
	c.tx = nil
	c.mu.Unlock()
}

// Run executes the closure function using the provided AtomicContext as the
// transaction context. It is expected that the closure will perform state
// changes within the transaction scope. Any errors returned from the closure
// are coerced into a standard error to prevent sqlair errors from being
// returned to the Service layer.
func Run(ctx AtomicContext, fn func(context.Context, *sqlair.TX) error) error {
	actx, ok := ctx.(*atomicContext)
	if !ok {
		return errors.Errorf("unexpected atomic context type %T", ctx)
	}

	actx.mu.Lock()
	defer actx.mu.Unlock()

	if actx.tx == nil {
		return ErrAtomicContextClosed
	}
	return fn(actx.ctx, actx.tx)
}
