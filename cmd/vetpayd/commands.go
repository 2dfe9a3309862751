// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/worker/v4"

	"github.com/canonical/vetpay/internal/apiserver"
	"github.com/canonical/vetpay/internal/config"
	internallogger "github.com/canonical/vetpay/internal/logger"
	"github.com/canonical/vetpay/internal/report"
	"github.com/canonical/vetpay/internal/worker/collector"
	"github.com/canonical/vetpay/internal/worker/confirmer"
	"github.com/canonical/vetpay/internal/worker/httpserver"
)

// setup reads the configuration, configures logging and wires the app.
func setup(ctx context.Context, configPath string) (*app, func(), error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	logCloser, err := internallogger.Configure(internallogger.Config{
		LoggingConfig: cfg.LoggingConfig,
		LogFile:       cfg.LogFile,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	a, err := newApp(ctx, cfg, clock.WallClock)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, errors.Trace(err)
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			a.logger.Warningf("closing: %v", err)
		}
		_ = logCloser.Close()
	}
	return a, cleanup, nil
}

func runServe(configPath string, args []string, _ io.Writer) error {
	if len(args) > 0 {
		return errors.Annotatef(errUsage, "unexpected arguments %q", args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := setup(ctx, configPath)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()

	workers, err := a.startWorkers()
	if err != nil {
		return errors.Trace(err)
	}

	// Stop everything when any worker dies or on a signal.
	died := make(chan error, len(workers))
	for _, w := range workers {
		go func(w worker.Worker) { died <- w.Wait() }(w)
	}
	select {
	case <-ctx.Done():
		a.logger.Infof("shutting down")
	case err = <-died:
		a.logger.Errorf("worker stopped: %v", err)
	}
	for _, w := range workers {
		if stopErr := worker.Stop(w); stopErr != nil {
			a.logger.Debugf("stopping worker: %v", stopErr)
		}
	}
	return errors.Trace(err)
}

func (a *app) startWorkers() ([]worker.Worker, error) {
	var workers []worker.Worker
	stopAll := func() {
		for _, w := range workers {
			_ = worker.Stop(w)
		}
	}

	a.registry.MustRegister(apiserver.NewFundCollector(a.riskPool, a.child("metrics")))
	apiMetrics := apiserver.NewMetricsCollector()
	a.registry.MustRegister(apiMetrics)

	handler, err := apiserver.NewHandler(apiserver.Config{
		Sweeper:       a.sweeper,
		Plans:         a.plans,
		Collections:   a.collection,
		Fund:          a.riskPool,
		Gatherer:      a.registry,
		Metrics:       apiMetrics,
		Token:         a.config.SweepToken,
		WebhookSecret: a.config.WebhookSecret,
		Logger:        a.child("apiserver"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	server, err := httpserver.NewWorker(httpserver.Config{
		Address: a.config.ListenAddress,
		Handler: handler,
		Logger:  a.child("httpserver"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	workers = append(workers, server)

	if a.config.SweepInterval > 0 {
		w, err := collector.NewWorker(collector.Config{
			Sweeper:  a.sweeper,
			Interval: a.config.SweepInterval,
			Clock:    a.clock,
			Logger:   a.child("collector"),
		})
		if err != nil {
			stopAll()
			return nil, errors.Trace(err)
		}
		workers = append(workers, w)
	} else {
		a.logger.Infof("scheduled sweeps disabled; sweeps run only when triggered")
	}

	if a.resultConsumer != nil {
		w, err := confirmer.NewWorker(confirmer.Config{
			Consumer:  a.resultConsumer,
			Confirmer: a.collection,
			Clock:     a.clock,
			Logger:    a.child("confirmer"),
		})
		if err != nil {
			stopAll()
			return nil, errors.Trace(err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func runSweep(configPath string, args []string, stdout io.Writer) error {
	if len(args) > 0 {
		return errors.Annotatef(errUsage, "unexpected arguments %q", args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := setup(ctx, configPath)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()

	result := a.sweeper.Run(ctx)
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return errors.Trace(err)
	}
	if !result.OK() {
		return errors.New("sweep did not complete every step")
	}
	return nil
}

// exportArgs are the options of export-ledger.
type exportArgs struct {
	output string
	since  time.Duration
}

func parseExportArgs(args []string) (exportArgs, error) {
	flags := gnuflag.NewFlagSet("export-ledger", gnuflag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var parsed exportArgs
	flags.StringVar(&parsed.output, "output", "", "path of the workbook to write")
	flags.StringVar(&parsed.output, "o", "", "")
	flags.DurationVar(&parsed.since, "since", 30*24*time.Hour, "how far back to export the audit log")
	if err := flags.Parse(true, args); err != nil {
		return exportArgs{}, errors.Annotate(errUsage, err.Error())
	}
	if len(flags.Args()) > 0 {
		return exportArgs{}, errors.Annotatef(errUsage, "unexpected arguments %q", flags.Args())
	}
	if parsed.output == "" {
		return exportArgs{}, errors.Annotate(errUsage, "--output is required")
	}
	if parsed.since <= 0 {
		return exportArgs{}, errors.Annotatef(errUsage, "--since %v", parsed.since)
	}
	return parsed, nil
}

func runExportLedger(configPath string, args []string, stdout io.Writer) error {
	parsed, err := parseExportArgs(args)
	if err != nil {
		return errors.Trace(err)
	}

	ctx := context.Background()
	a, cleanup, err := setup(ctx, configPath)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()

	f, err := os.Create(parsed.output)
	if err != nil {
		return errors.Trace(err)
	}
	since := a.clock.Now().Add(-parsed.since)
	if err := report.NewExporter(a.riskPool, a.audit).WriteLedger(ctx, f, since); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	if err := f.Close(); err != nil {
		return errors.Trace(err)
	}
	_, err = io.WriteString(stdout, "wrote "+humanize.Bytes(uint64(info.Size()))+" to "+parsed.output+"\n")
	return errors.Trace(err)
}
