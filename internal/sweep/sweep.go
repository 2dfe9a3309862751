// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sweep runs the periodic collection pass: it charges due
// payments, escalates soft-collection cases and defaults plans whose
// payments have been written off. Each step runs regardless of the
// failure of the others.
package sweep

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/domain/collection"
	"github.com/canonical/vetpay/domain/softcollection"
	softcollectionerrors "github.com/canonical/vetpay/domain/softcollection/errors"
)

// Collection is the collection engine.
type Collection interface {
	DuePayments(context.Context) ([]collection.DuePayment, error)
	ExecuteBatch(context.Context, []collection.DuePayment) collection.BatchResult
	PlansNeedingDefault(context.Context) ([]string, error)
	EscalateDefault(context.Context, string) (bool, error)
}

// SoftCollection is the soft-collection workflow.
type SoftCollection interface {
	PendingEscalations(context.Context) ([]softcollection.Record, error)
	EscalateIfDue(context.Context, string) (softcollection.Record, bool, error)
	DefaultedPlansWithoutRecord(context.Context) ([]string, error)
	Initiate(context.Context, string) (softcollection.Record, error)
}

// ThrottlePruner removes expired notification counters.
type ThrottlePruner interface {
	PruneExpired(context.Context) (int64, error)
}

// Step is the outcome of one step of a sweep.
type Step struct {
	Due       int    `json:"due"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of a sweep.
type Result struct {
	Payments    Step `json:"payments"`
	Escalations Step `json:"escalations"`
	Defaults    Step `json:"defaults"`

	// Initiated counts soft-collection cases opened for defaulted plans
	// that had none.
	Initiated int `json:"initiated"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether every step ran. Declined payments and other item
// failures do not fail a sweep.
func (r Result) OK() bool {
	return r.Payments.Error == "" && r.Escalations.Error == "" && r.Defaults.Error == ""
}

// Config holds the dependencies of a Sweeper.
type Config struct {
	Collection     Collection
	SoftCollection SoftCollection

	// Throttle is optional.
	Throttle ThrottlePruner

	Metrics *Collector
	Clock   clock.Clock
	Logger  logger.Logger
}

// Validate checks the configuration is complete.
func (c Config) Validate() error {
	if c.Collection == nil {
		return errors.NotValidf("nil Collection")
	}
	if c.SoftCollection == nil {
		return errors.NotValidf("nil SoftCollection")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Sweeper runs sweeps.
type Sweeper struct {
	config Config
}

// New returns a Sweeper.
func New(config Config) (*Sweeper, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Sweeper{config: config}, nil
}

// Run performs a sweep. Concurrent sweeps, in this or other processes,
// are safe: every item is claimed by a guarded status change.
func (s *Sweeper) Run(ctx context.Context) Result {
	started := s.config.Clock.Now()
	result := Result{StartedAt: started.UTC()}

	result.Payments = s.collectPayments(ctx)
	result.Escalations = s.escalateSoftCollection(ctx)

	defaulted := set.NewStrings()
	result.Defaults = s.escalateDefaults(ctx, defaulted)
	result.Initiated = s.initiateSoftCollection(ctx, defaulted)

	if s.config.Throttle != nil {
		if removed, err := s.config.Throttle.PruneExpired(ctx); err != nil {
			s.config.Logger.Warningf("pruning notification counters: %v", err)
		} else if removed > 0 {
			s.config.Logger.Debugf("pruned %d notification counters", removed)
		}
	}

	result.Duration = s.config.Clock.Now().Sub(started)
	s.config.Metrics.observe(result)

	if result.OK() {
		s.config.Logger.Infof("sweep: %d/%d payments processed, %d/%d escalated, %d/%d defaulted",
			result.Payments.Processed, result.Payments.Due,
			result.Escalations.Processed, result.Escalations.Due,
			result.Defaults.Processed, result.Defaults.Due)
	} else {
		s.config.Logger.Errorf("sweep incomplete: payments %q, escalations %q, defaults %q",
			result.Payments.Error, result.Escalations.Error, result.Defaults.Error)
	}
	return result
}

func (s *Sweeper) collectPayments(ctx context.Context) Step {
	due, err := s.config.Collection.DuePayments(ctx)
	if err != nil {
		s.config.Logger.Errorf("listing due payments: %v", err)
		return Step{Error: err.Error()}
	}
	batch := s.config.Collection.ExecuteBatch(ctx, due)
	return Step{
		Due:       batch.Due,
		Processed: batch.Processed(),
		Failed:    batch.Failed + batch.Errored,
	}
}

func (s *Sweeper) escalateSoftCollection(ctx context.Context) Step {
	pending, err := s.config.SoftCollection.PendingEscalations(ctx)
	if err != nil {
		s.config.Logger.Errorf("listing soft-collection escalations: %v", err)
		return Step{Error: err.Error()}
	}

	step := Step{Due: len(pending)}
	for _, rec := range pending {
		_, escalated, err := s.config.SoftCollection.EscalateIfDue(ctx, rec.PlanUUID)
		switch {
		case err == nil && escalated:
			step.Processed++
		case err == nil:
			s.config.Logger.Debugf("soft collection of plan %q no longer due", rec.PlanUUID)
		case errors.Is(err, softcollectionerrors.SoftCollectionClosed):
			s.config.Logger.Debugf("not escalating soft collection of plan %q: %v", rec.PlanUUID, err)
		default:
			step.Failed++
			s.config.Logger.Errorf("escalating soft collection of plan %q: %v", rec.PlanUUID, err)
		}
	}
	return step
}

func (s *Sweeper) escalateDefaults(ctx context.Context, defaulted set.Strings) Step {
	uuids, err := s.config.Collection.PlansNeedingDefault(ctx)
	if err != nil {
		s.config.Logger.Errorf("listing plans needing default: %v", err)
		return Step{Error: err.Error()}
	}

	step := Step{Due: len(uuids)}
	for _, uuid := range uuids {
		escalated, err := s.config.Collection.EscalateDefault(ctx, uuid)
		if err != nil {
			step.Failed++
			s.config.Logger.Errorf("escalating plan %q to default: %v", uuid, err)
			continue
		}
		if escalated {
			step.Processed++
			defaulted.Add(uuid)
		}
	}
	return step
}

// initiateSoftCollection opens cases for defaulted plans whose soft
// collection failed to start when they defaulted. Plans defaulted by this
// sweep already started theirs.
func (s *Sweeper) initiateSoftCollection(ctx context.Context, defaulted set.Strings) int {
	uuids, err := s.config.SoftCollection.DefaultedPlansWithoutRecord(ctx)
	if err != nil {
		s.config.Logger.Errorf("listing defaulted plans without soft collection: %v", err)
		return 0
	}

	var initiated int
	for _, uuid := range set.NewStrings(uuids...).Difference(defaulted).SortedValues() {
		if _, err := s.config.SoftCollection.Initiate(ctx, uuid); err != nil {
			s.config.Logger.Errorf("starting soft collection for plan %q: %v", uuid, err)
			continue
		}
		initiated++
	}
	return initiated
}
