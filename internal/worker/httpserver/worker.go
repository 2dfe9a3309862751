// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package httpserver serves the API for as long as the worker lives.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/vetpay/core/logger"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Config holds configuration required to run the HTTP server worker.
type Config struct {
	// Address is the address to listen on.
	Address string

	// Handler serves every request.
	Handler http.Handler

	// ShutdownTimeout bounds the time given to in-flight requests when
	// the worker is killed. Zero means a default.
	ShutdownTimeout time.Duration

	// Logger logs stuff.
	Logger logger.Logger
}

// Validate ensures that the configuration is
// correctly populated for worker operation.
func (config Config) Validate() error {
	if config.Address == "" {
		return errors.NotValidf("empty Address")
	}
	if config.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if config.ShutdownTimeout < 0 {
		return errors.NotValidf("negative ShutdownTimeout")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker serves HTTP.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config

	listener net.Listener
	server   *http.Server
}

// NewWorker listens on the configured address and starts serving.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %q", config.Address)
	}

	w := &Worker{
		config:   config,
		listener: listener,
		server: &http.Server{
			Handler:           config.Handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		_ = listener.Close()
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Address returns the address the server is listening on.
func (w *Worker) Address() string {
	return w.listener.Addr().String()
}

func (w *Worker) loop() error {
	w.config.Logger.Infof("serving on %s", w.Address())

	served := make(chan error, 1)
	go func() {
		served <- w.server.Serve(w.listener)
	}()

	select {
	case <-w.catacomb.Dying():
		ctx, cancel := context.WithTimeout(context.Background(), w.config.ShutdownTimeout)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.config.Logger.Warningf("shutting down http server: %v", err)
			_ = w.server.Close()
		}
		<-served
		return w.catacomb.ErrDying()
	case err := <-served:
		return errors.Annotate(err, "http server stopped")
	}
}

// Kill (worker.Worker) tells the worker to stop and return from its loop.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait (worker.Worker) waits for the worker to stop,
// and returns the error with which it exited.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}
