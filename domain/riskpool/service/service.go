// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/riskpool"
)

// State describes retrieval and persistence methods for the guarantee
// fund ledger.
type State interface {
	domain.AtomicStateBase

	// InsertEntry appends an entry to the ledger within the given
	// transaction.
	InsertEntry(domain.AtomicContext, riskpool.Entry) error

	// Totals returns the per-kind sums over the whole ledger.
	Totals(context.Context) (riskpool.Totals, error)

	// Exposure returns the sum of remaining balances across active plans
	// and the number of such plans.
	Exposure(context.Context) (money.Cents, int, error)

	// EntriesForPlan returns the ledger entries of a plan.
	EntriesForPlan(context.Context, string) ([]riskpool.Entry, error)

	// AllEntries returns the full ledger.
	AllEntries(context.Context) ([]riskpool.Entry, error)
}

// AuditRecorder records audit entries inside a transaction.
type AuditRecorder interface {
	RecordAtomic(domain.AtomicContext, audit.Entry)
}

// Service maintains the guarantee fund ledger. The balance is always
// derived from the entries.
type Service struct {
	st     State
	audit  AuditRecorder
	clock  clock.Clock
	logger logger.Logger
}

// NewService returns a new guarantee fund Service.
func NewService(st State, audit AuditRecorder, clock clock.Clock, logger logger.Logger) *Service {
	return &Service{
		st:     st,
		audit:  audit,
		clock:  clock,
		logger: logger,
	}
}

// RecordContribution records money paid into the fund for a plan.
func (s *Service) RecordContribution(ctx context.Context, planUUID string, amount money.Cents, actor audit.Actor) (riskpool.Entry, error) {
	return s.record(ctx, riskpool.KindContribution, planUUID, amount, actor)
}

// RecordClaim records money paid out of the fund for a defaulted plan.
func (s *Service) RecordClaim(ctx context.Context, planUUID string, amount money.Cents, actor audit.Actor) (riskpool.Entry, error) {
	return s.record(ctx, riskpool.KindClaim, planUUID, amount, actor)
}

// RecordRecovery records money returned to the fund for a plan.
func (s *Service) RecordRecovery(ctx context.Context, planUUID string, amount money.Cents, actor audit.Actor) (riskpool.Entry, error) {
	return s.record(ctx, riskpool.KindRecovery, planUUID, amount, actor)
}

func (s *Service) record(ctx context.Context, kind riskpool.EntryKind, planUUID string, amount money.Cents, actor audit.Actor) (riskpool.Entry, error) {
	var entry riskpool.Entry
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		var err error
		entry, err = s.RecordAtomic(actx, kind, planUUID, amount, actor)
		return err
	})
	if err != nil {
		return riskpool.Entry{}, errors.Trace(err)
	}
	return entry, nil
}

// RecordAtomic appends an entry of the given kind inside the caller's
// transaction, together with its audit entry. The amount must be
// positive; an error satisfying [errors.NotValid] is returned otherwise.
func (s *Service) RecordAtomic(ctx domain.AtomicContext, kind riskpool.EntryKind, planUUID string, amount money.Cents, actor audit.Actor) (riskpool.Entry, error) {
	if err := kind.Validate(); err != nil {
		return riskpool.Entry{}, errors.Trace(err)
	}
	if planUUID == "" {
		return riskpool.Entry{}, errors.NotValidf("empty plan uuid")
	}
	if !amount.IsPositive() {
		return riskpool.Entry{}, errors.NotValidf("%s amount %s", kind, amount)
	}

	entry := riskpool.Entry{
		UUID:      uuid.NewString(),
		PlanUUID:  planUUID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.st.InsertEntry(ctx, entry); err != nil {
		return riskpool.Entry{}, errors.Trace(err)
	}

	s.audit.RecordAtomic(ctx, audit.Entry{
		EntityType: audit.EntityRiskPoolEntry,
		EntityID:   entry.UUID,
		Action:     string(kind) + "_recorded",
		NewValue: map[string]any{
			"plan_uuid":    planUUID,
			"kind":         kind,
			"amount_cents": amount,
		},
		Actor: actor,
	})
	return entry, nil
}

// Balance returns contributions plus recoveries minus claims.
func (s *Service) Balance(ctx context.Context) (money.Cents, error) {
	totals, err := s.st.Totals(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return totals.Balance(), nil
}

// Health compares the fund balance against the remaining balances of all
// active plans.
func (s *Service) Health(ctx context.Context) (riskpool.Health, error) {
	totals, err := s.st.Totals(ctx)
	if err != nil {
		return riskpool.Health{}, errors.Trace(err)
	}
	exposure, active, err := s.st.Exposure(ctx)
	if err != nil {
		return riskpool.Health{}, errors.Trace(err)
	}

	health := riskpool.Health{
		Totals:      totals,
		Balance:     totals.Balance(),
		Exposure:    exposure,
		ActivePlans: active,
	}
	if exposure > 0 {
		health.CoverageRatio = decimal.NewFromInt(int64(health.Balance)).
			DivRound(decimal.NewFromInt(int64(exposure)), 4).
			InexactFloat64()
	}
	return health, nil
}

// EntriesForPlan returns the ledger entries of a plan.
func (s *Service) EntriesForPlan(ctx context.Context, planUUID string) ([]riskpool.Entry, error) {
	entries, err := s.st.EntriesForPlan(ctx, planUUID)
	return entries, errors.Trace(err)
}

// AllEntries returns the full ledger in creation order.
func (s *Service) AllEntries(ctx context.Context) ([]riskpool.Entry, error) {
	entries, err := s.st.AllEntries(ctx)
	return entries, errors.Trace(err)
}
