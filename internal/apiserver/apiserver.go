// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver provides the HTTP surface of the collection engine:
// operator endpoints guarded by a bearer token, the signed provider
// webhook and the Prometheus scrape endpoint.
package apiserver

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/collection"
	"github.com/canonical/vetpay/domain/plan"
	"github.com/canonical/vetpay/domain/riskpool"
	"github.com/canonical/vetpay/internal/confirm"
	"github.com/canonical/vetpay/internal/sweep"
)

// Sweeper runs one collection sweep.
type Sweeper interface {
	Run(context.Context) sweep.Result
}

// PlanService enrolls and reads plans.
type PlanService interface {
	Enroll(context.Context, plan.EnrollArgs, audit.Actor) (plan.Plan, error)
	GetPlan(context.Context, string) (plan.Plan, error)
	PaymentsForPlan(context.Context, string) ([]plan.Payment, error)
}

// CollectionService charges deposits and records provider outcomes.
type CollectionService interface {
	confirm.Confirmer
	CollectDeposit(context.Context, string) (collection.Outcome, error)
}

// FundService reports on the guarantee fund.
type FundService interface {
	Health(context.Context) (riskpool.Health, error)
}

// Config holds the dependencies of the API handler.
type Config struct {
	Sweeper     Sweeper
	Plans       PlanService
	Collections CollectionService
	Fund        FundService

	// Gatherer is served on /metrics.
	Gatherer prometheus.Gatherer
	// Metrics counts handled requests. It is optional.
	Metrics *Collector

	// Token is the bearer token required on operator endpoints.
	Token string
	// WebhookSecret is the HMAC key of provider webhook signatures.
	WebhookSecret string

	Logger logger.Logger
}

// Validate returns an error satisfying [errors.NotValid] if the config is
// incomplete.
func (c Config) Validate() error {
	if c.Sweeper == nil {
		return errors.NotValidf("nil Sweeper")
	}
	if c.Plans == nil {
		return errors.NotValidf("nil Plans")
	}
	if c.Collections == nil {
		return errors.NotValidf("nil Collections")
	}
	if c.Fund == nil {
		return errors.NotValidf("nil Fund")
	}
	if c.Gatherer == nil {
		return errors.NotValidf("nil Gatherer")
	}
	if c.Token == "" {
		return errors.NotValidf("empty Token")
	}
	if c.WebhookSecret == "" {
		return errors.NotValidf("empty WebhookSecret")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// NewHandler returns the router serving every endpoint.
func NewHandler(config Config) (http.Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	api := &apiHandler{config: config}

	r := mux.NewRouter()
	if config.Metrics != nil {
		r.Use(config.Metrics.middleware)
	}

	r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/v1/webhooks/payments", api.serveWebhook).Methods(http.MethodPost)

	operator := r.PathPrefix("/v1").Subrouter()
	operator.Use(api.requireToken)
	operator.HandleFunc("/sweep", api.serveSweep).Methods(http.MethodPost)
	operator.HandleFunc("/plans", api.serveEnroll).Methods(http.MethodPost)
	operator.HandleFunc("/plans/{uuid}", api.servePlan).Methods(http.MethodGet)
	operator.HandleFunc("/fund/health", api.serveFundHealth).Methods(http.MethodGet)

	return r, nil
}

type apiHandler struct {
	config Config
}
