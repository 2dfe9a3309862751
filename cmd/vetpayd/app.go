// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"database/sql"
	"io"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	coredatabase "github.com/canonical/vetpay/core/database"
	"github.com/canonical/vetpay/core/logger"
	auditservice "github.com/canonical/vetpay/domain/audit/service"
	auditstate "github.com/canonical/vetpay/domain/audit/state"
	collectionservice "github.com/canonical/vetpay/domain/collection/service"
	collectionstate "github.com/canonical/vetpay/domain/collection/state"
	"github.com/canonical/vetpay/domain/notification"
	notificationservice "github.com/canonical/vetpay/domain/notification/service"
	notificationstate "github.com/canonical/vetpay/domain/notification/state"
	payoutservice "github.com/canonical/vetpay/domain/payout/service"
	payoutstate "github.com/canonical/vetpay/domain/payout/state"
	planservice "github.com/canonical/vetpay/domain/plan/service"
	planstate "github.com/canonical/vetpay/domain/plan/state"
	riskpoolservice "github.com/canonical/vetpay/domain/riskpool/service"
	riskpoolstate "github.com/canonical/vetpay/domain/riskpool/state"
	"github.com/canonical/vetpay/domain/schema"
	softcollectionservice "github.com/canonical/vetpay/domain/softcollection/service"
	softcollectionstate "github.com/canonical/vetpay/domain/softcollection/state"
	"github.com/canonical/vetpay/internal/config"
	"github.com/canonical/vetpay/internal/database"
	"github.com/canonical/vetpay/internal/database/txn"
	"github.com/canonical/vetpay/internal/gateway"
	internallogger "github.com/canonical/vetpay/internal/logger"
	"github.com/canonical/vetpay/internal/notify"
	"github.com/canonical/vetpay/internal/queue"
	"github.com/canonical/vetpay/internal/sweep"
	"github.com/canonical/vetpay/internal/throttle"
)

// app holds the wired services of one vetpayd process.
type app struct {
	config config.Config
	clock  clock.Clock
	logger logger.Logger

	registry *prometheus.Registry

	plans          *planservice.Service
	collection     *collectionservice.Service
	softCollection *softcollectionservice.Service
	riskPool       *riskpoolservice.Service
	audit          *auditservice.Service
	sweeper        *sweep.Sweeper

	// resultConsumer is nil when no result queue is configured.
	resultConsumer *queue.Consumer

	closers []io.Closer
}

// newApp opens the ledger, brings its schema up to date and wires every
// service to its SQS and Redis backends.
func newApp(ctx context.Context, cfg config.Config, clk clock.Clock) (_ *app, err error) {
	a := &app{
		config:   cfg,
		clock:    clk,
		logger:   internallogger.GetLogger("vetpay"),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	a.closers = append(a.closers, db)

	factory, err := a.ensureSchema(ctx, db)
	if err != nil {
		return nil, errors.Trace(err)
	}

	sqsClient, err := queue.NewClient(ctx, queue.ClientConfig{
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
		Endpoint:  cfg.SQSEndpoint,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	chargePublisher, err := queue.NewPublisher(sqsClient, cfg.ChargeQueueURL)
	if err != nil {
		return nil, errors.Annotate(err, "charge queue")
	}
	transferPublisher, err := queue.NewPublisher(sqsClient, cfg.TransferQueueURL)
	if err != nil {
		return nil, errors.Annotate(err, "transfer queue")
	}
	if cfg.ResultQueueURL != "" {
		if a.resultConsumer, err = queue.NewConsumer(sqsClient, cfg.ResultQueueURL, a.child("queue")); err != nil {
			return nil, errors.Annotate(err, "result queue")
		}
	}

	senders := make(map[notification.Channel]notificationservice.Sender)
	for channel, queueURL := range map[notification.Channel]string{
		notification.ChannelEmail: cfg.EmailQueueURL,
		notification.ChannelSMS:   cfg.SMSQueueURL,
	} {
		if queueURL == "" {
			a.logger.Infof("no queue configured for %s notifications", channel)
			continue
		}
		publisher, err := queue.NewPublisher(sqsClient, queueURL)
		if err != nil {
			return nil, errors.Annotatef(err, "%s queue", channel)
		}
		if senders[channel], err = notify.NewSender(channel, publisher); err != nil {
			return nil, errors.Trace(err)
		}
	}

	notificationState := notificationstate.NewState(factory, clk)
	var (
		deliveryThrottle notificationservice.Throttle = notificationState
		pruner           sweep.ThrottlePruner         = notificationState
	)
	if cfg.RedisAddress != "" {
		redisClient, err := throttle.NewClient(ctx, cfg.RedisAddress)
		if err != nil {
			return nil, errors.Trace(err)
		}
		a.closers = append(a.closers, redisClient)
		// Redis counters expire on their own.
		deliveryThrottle, pruner = throttle.New(redisClient), nil
	}

	notifications, err := notificationservice.NewService(notificationState, deliveryThrottle, senders, notificationservice.Config{
		Limit:       cfg.NotificationLimit,
		Window:      cfg.NotificationWindow,
		SendTimeout: cfg.NotifyTimeout,
	}, a.child("notification"))
	if err != nil {
		return nil, errors.Trace(err)
	}

	a.audit = auditservice.NewService(auditstate.NewState(factory), clk, a.child("audit"))
	a.riskPool = riskpoolservice.NewService(riskpoolstate.NewState(factory), a.audit, clk, a.child("riskpool"))

	if a.plans, err = planservice.NewService(planstate.NewState(factory), a.riskPool, a.audit, planservice.Config{
		MinimumBill:      cfg.MinBill,
		ContributionRate: cfg.ContributionRate,
	}, clk, a.child("plan")); err != nil {
		return nil, errors.Trace(err)
	}

	payouts, err := payoutservice.NewService(payoutstate.NewState(factory), gateway.NewDisburser(transferPublisher), a.audit, payoutservice.Config{
		ClinicShareRate: cfg.ClinicShareRate,
		TransferTimeout: cfg.TransferTimeout,
	}, clk, a.child("payout"))
	if err != nil {
		return nil, errors.Trace(err)
	}

	a.softCollection = softcollectionservice.NewService(softcollectionstate.NewState(factory),
		notifications, a.audit, a.riskPool, clk, a.child("softcollection"))

	if a.collection, err = collectionservice.NewService(collectionstate.NewState(factory), collectionservice.Collaborators{
		Executor:       gateway.NewChargeExecutor(chargePublisher),
		Notifier:       notifications,
		Payouts:        payouts,
		SoftCollection: a.softCollection,
		RiskPool:       a.riskPool,
		Audit:          a.audit,
	}, collectionservice.Config{
		MaxRetries:    cfg.MaxRetries,
		RetryMinDays:  cfg.RetryMinDays,
		ChargeTimeout: cfg.ChargeTimeout,
		Concurrency:   cfg.SweepConcurrency,
	}, clk, a.child("collection")); err != nil {
		return nil, errors.Trace(err)
	}

	sweepMetrics := sweep.NewMetricsCollector()
	if err := a.registry.Register(sweepMetrics); err != nil {
		return nil, errors.Trace(err)
	}
	sweepConfig := sweep.Config{
		Collection:     a.collection,
		SoftCollection: a.softCollection,
		Throttle:       pruner,
		Metrics:        sweepMetrics,
		Clock:          clk,
		Logger:         a.child("sweep"),
	}
	if a.sweeper, err = sweep.New(sweepConfig); err != nil {
		return nil, errors.Trace(err)
	}

	if err := a.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.Trace(err)
	}
	return a, nil
}

// ensureSchema applies any outstanding ledger patches and returns the
// transaction runner factory handed to every state.
func (a *app) ensureSchema(ctx context.Context, db *sql.DB) (coredatabase.TxnRunnerFactory, error) {
	runner := database.NewTxnRunner(db, txn.WithLogger(a.child("database")))
	changes, err := schema.LedgerDDL().Ensure(ctx, runner)
	if err != nil {
		return nil, errors.Annotate(err, "applying ledger schema")
	}
	if changes.Post > changes.Current {
		a.logger.Infof("applied ledger schema patches %d to %d", changes.Current+1, changes.Post)
	}
	return database.TxnRunnerFactory(runner), nil
}

func (a *app) child(name string) logger.Logger {
	return internallogger.GetLogger("vetpay." + name)
}

// Close releases the database and any backend connections.
func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return errors.Trace(firstErr)
}
