// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package confirmer applies charge outcomes read from the provider's
// result queue.
package confirmer

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/vetpay/core/logger"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/internal/confirm"
	"github.com/canonical/vetpay/internal/queue"
)

// retryDelay is the time to wait after the queue could not be read.
const retryDelay = 15 * time.Second

// Consumer reads batches of messages from the result queue.
type Consumer interface {
	Receive(ctx context.Context, handle queue.Handler) (int, error)
}

// Config holds configuration required to run the confirmer worker.
type Config struct {
	Consumer  Consumer
	Confirmer confirm.Confirmer

	// Clock is used by the worker to create timers.
	Clock clock.Clock

	// Logger logs stuff.
	Logger logger.Logger
}

// Validate ensures that the configuration is
// correctly populated for worker operation.
func (config Config) Validate() error {
	if config.Consumer == nil {
		return errors.NotValidf("nil Consumer")
	}
	if config.Confirmer == nil {
		return errors.NotValidf("nil Confirmer")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

type confirmerWorker struct {
	catacomb catacomb.Catacomb
	cfg      Config
}

// NewWorker starts a new confirmer worker based
// on the input configuration and returns it.
func NewWorker(cfg Config) (worker.Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &confirmerWorker{cfg: cfg}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

func (w *confirmerWorker) loop() error {
	ctx := w.catacomb.Context(context.Background())

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		default:
		}

		_, err := w.cfg.Consumer.Receive(ctx, w.handle)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return w.catacomb.ErrDying()
		}
		w.cfg.Logger.Warningf("reading charge results: %v", err)

		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-w.cfg.Clock.After(retryDelay):
		}
	}
}

// handle applies one outcome. Malformed outcomes and outcomes for unknown
// payments are dropped so they are not redelivered forever; any other
// failure leaves the message on the queue.
func (w *confirmerWorker) handle(ctx context.Context, kind string, body []byte) error {
	event, err := confirm.Parse(body)
	if err != nil {
		w.cfg.Logger.Errorf("dropping %s message: %v", kind, err)
		return nil
	}

	err = confirm.Apply(ctx, w.cfg.Confirmer, event)
	if errors.Is(err, planerrors.PaymentNotFound) {
		w.cfg.Logger.Warningf("dropping %s message: %v", kind, err)
		return nil
	}
	return errors.Trace(err)
}

// Kill (worker.Worker) tells the worker to stop and return from its loop.
func (w *confirmerWorker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait (worker.Worker) waits for the worker to stop,
// and returns the error with which it exited.
func (w *confirmerWorker) Wait() error {
	return w.catacomb.Wait()
}
