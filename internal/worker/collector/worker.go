// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package collector runs the collection sweep on a fixed interval.
package collector

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/internal/sweep"
)

// Sweeper runs one collection sweep.
type Sweeper interface {
	Run(context.Context) sweep.Result
}

// Config holds configuration required to run the collector worker.
type Config struct {
	// Sweeper runs each pass.
	Sweeper Sweeper

	// Interval is the time between the end of one sweep and the start
	// of the next.
	Interval time.Duration

	// Clock is used by the worker to create timers.
	Clock clock.Clock

	// Logger logs stuff.
	Logger logger.Logger
}

// Validate ensures that the configuration is
// correctly populated for worker operation.
func (config Config) Validate() error {
	if config.Sweeper == nil {
		return errors.NotValidf("nil Sweeper")
	}
	if config.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

type collectorWorker struct {
	catacomb catacomb.Catacomb
	cfg      Config
}

// NewWorker starts a new collector worker based
// on the input configuration and returns it.
func NewWorker(cfg Config) (worker.Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &collectorWorker{cfg: cfg}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

func (w *collectorWorker) loop() error {
	ctx := w.catacomb.Context(context.Background())

	timer := w.cfg.Clock.NewTimer(w.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-timer.Chan():
			result := w.cfg.Sweeper.Run(ctx)
			if !result.OK() {
				w.cfg.Logger.Warningf("sweep started at %s did not complete every step",
					result.StartedAt.Format(time.RFC3339))
			}
			timer.Reset(w.cfg.Interval)
		}
	}
}

// Kill (worker.Worker) tells the worker to stop and return from its loop.
func (w *collectorWorker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait (worker.Worker) waits for the worker to stop,
// and returns the error with which it exited.
func (w *collectorWorker) Wait() error {
	return w.catacomb.Wait()
}
