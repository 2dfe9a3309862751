// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/domain/riskpool"
)

// State describes retrieval and persistence methods for plans.
type State interface {
	domain.AtomicStateBase

	// InsertPlan writes a new plan together with its payments.
	InsertPlan(domain.AtomicContext, plan.Plan, []plan.Payment, time.Time) error

	// GetPlan returns the plan with the given uuid.
	GetPlan(context.Context, string) (plan.Plan, error)

	// GetPlanAtomic returns the plan with the given uuid within the
	// given transaction.
	GetPlanAtomic(domain.AtomicContext, string) (plan.Plan, error)

	// PaymentsForPlan returns the payments of a plan ordered by sequence.
	PaymentsForPlan(context.Context, string) ([]plan.Payment, error)

	// PlansWithStatus returns the plans in the given status.
	PlansWithStatus(context.Context, plan.Status) ([]plan.Plan, error)

	// PlansForClinic returns the plans paying out to a clinic.
	PlansForClinic(context.Context, string) ([]plan.Plan, error)

	// UpdatePlanStatus moves a plan from one status to another.
	UpdatePlanStatus(domain.AtomicContext, string, plan.Status, plan.Status, time.Time) error
}

// RiskPool records guarantee fund entries inside a transaction.
type RiskPool interface {
	RecordAtomic(domain.AtomicContext, riskpool.EntryKind, string, money.Cents, audit.Actor) (riskpool.Entry, error)
}

// AuditRecorder records audit entries inside a transaction.
type AuditRecorder interface {
	RecordAtomic(domain.AtomicContext, audit.Entry)
}

// Config holds the parameters of plan enrollment.
type Config struct {
	// MinimumBill is the smallest bill accepted for a plan.
	MinimumBill money.Cents

	// ContributionRate is the fraction of each plan's total paid into the
	// guarantee fund at enrollment.
	ContributionRate decimal.Decimal
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinimumBill <= 0 {
		return errors.NotValidf("minimum bill %s", c.MinimumBill)
	}
	if c.ContributionRate.IsNegative() || c.ContributionRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.NotValidf("contribution rate %s", c.ContributionRate)
	}
	return nil
}

// Service enrolls and administers payment plans.
type Service struct {
	st       State
	riskPool RiskPool
	audit    AuditRecorder
	config   Config
	clock    clock.Clock
	logger   logger.Logger
}

// NewService returns a new plan Service.
func NewService(st State, riskPool RiskPool, audit AuditRecorder, config Config, clock clock.Clock, logger logger.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Service{
		st:       st,
		riskPool: riskPool,
		audit:    audit,
		config:   config,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Enroll creates a pending plan for the bill with its deposit and
// installment schedule, and pays the plan's contribution into the
// guarantee fund. Everything is written in a single transaction.
// An error satisfying [errors.NotValid] is returned if the arguments are
// invalid or the bill is below the minimum.
func (s *Service) Enroll(ctx context.Context, args plan.EnrollArgs, actor audit.Actor) (plan.Plan, error) {
	if err := args.Validate(); err != nil {
		return plan.Plan{}, errors.Trace(err)
	}
	if err := actor.Kind.Validate(); err != nil {
		return plan.Plan{}, errors.Trace(err)
	}

	now := s.clock.Now().UTC()
	schedule, err := plan.CalculateSchedule(args.Bill, s.config.MinimumBill, now)
	if err != nil {
		return plan.Plan{}, errors.Trace(err)
	}

	p := plan.Plan{
		UUID:             uuid.NewString(),
		OwnerID:          args.Owner.ID,
		OwnerEmail:       args.Owner.Email,
		OwnerPhone:       args.Owner.Phone,
		PayerReference:   args.Owner.PayerReference,
		ClinicID:         args.Clinic.ID,
		ClinicAccount:    args.Clinic.Account,
		Bill:             schedule.Bill,
		Fee:              schedule.Fee,
		TotalWithFee:     schedule.TotalWithFee,
		Deposit:          schedule.Deposit,
		Remaining:        schedule.Remaining,
		Installment:      schedule.Installment,
		InstallmentCount: schedule.InstallmentCount,
		Status:           plan.StatusPending,
		NextPaymentAt:    &now,
		CreatedAt:        now,
	}
	payments := make([]plan.Payment, len(schedule.Payments))
	for i, sp := range schedule.Payments {
		payments[i] = plan.Payment{
			UUID:        uuid.NewString(),
			PlanUUID:    p.UUID,
			Type:        sp.Type,
			Sequence:    sp.Sequence,
			Amount:      sp.Amount,
			Status:      plan.PaymentPending,
			ScheduledAt: sp.DueAt,
		}
	}
	contribution := money.ApplyRate(p.TotalWithFee, s.config.ContributionRate)

	err = s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		if err := s.st.InsertPlan(actx, p, payments, now); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPlan,
			EntityID:   p.UUID,
			Action:     "plan_created",
			NewValue:   planSnapshot(p),
			Actor:      actor,
		})
		if contribution.IsPositive() {
			if _, err := s.riskPool.RecordAtomic(actx, riskpool.KindContribution, p.UUID, contribution, audit.System); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	})
	if err != nil {
		return plan.Plan{}, errors.Annotatef(err, "enrolling owner %q", args.Owner.ID)
	}

	s.logger.Infof("enrolled plan %q for %s over %d installments", p.UUID, p.TotalWithFee, p.InstallmentCount)
	return p, nil
}

// Cancel moves a pending or active plan to cancelled. Cancelling a
// cancelled plan does nothing. The following errors may be returned:
// - [planerrors.PlanNotFound] if the plan does not exist.
// - [planerrors.PlanStatusConflict] if the plan is completed or defaulted.
func (s *Service) Cancel(ctx context.Context, planUUID string, actor audit.Actor) error {
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPlanAtomic(actx, planUUID)
		if err != nil {
			return errors.Trace(err)
		}
		if current.Status == plan.StatusCancelled {
			return nil
		}
		if !current.Status.CanTransitionTo(plan.StatusCancelled) {
			return errors.Annotatef(planerrors.PlanStatusConflict, "cannot cancel %s plan", current.Status)
		}

		if err := s.st.UpdatePlanStatus(actx, planUUID, current.Status, plan.StatusCancelled, s.clock.Now()); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPlan,
			EntityID:   planUUID,
			Action:     "status_change",
			OldValue:   map[string]any{"status": current.Status},
			NewValue:   map[string]any{"status": plan.StatusCancelled},
			Actor:      actor,
		})
		return nil
	})
	return errors.Annotatef(err, "cancelling plan %q", planUUID)
}

// GetPlan returns the plan with the given uuid.
func (s *Service) GetPlan(ctx context.Context, planUUID string) (plan.Plan, error) {
	p, err := s.st.GetPlan(ctx, planUUID)
	return p, errors.Trace(err)
}

// PaymentsForPlan returns the payment schedule of a plan and its current
// state. An error satisfying [planerrors.PlanNotFound] is returned if the
// plan does not exist.
func (s *Service) PaymentsForPlan(ctx context.Context, planUUID string) ([]plan.Payment, error) {
	if _, err := s.st.GetPlan(ctx, planUUID); err != nil {
		return nil, errors.Trace(err)
	}
	payments, err := s.st.PaymentsForPlan(ctx, planUUID)
	return payments, errors.Trace(err)
}

// PlansWithStatus returns the plans in the given status.
func (s *Service) PlansWithStatus(ctx context.Context, status plan.Status) ([]plan.Plan, error) {
	if err := status.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	plans, err := s.st.PlansWithStatus(ctx, status)
	return plans, errors.Trace(err)
}

// PlansForClinic returns the plans paying out to a clinic.
func (s *Service) PlansForClinic(ctx context.Context, clinicID string) ([]plan.Plan, error) {
	plans, err := s.st.PlansForClinic(ctx, clinicID)
	return plans, errors.Trace(err)
}

func planSnapshot(p plan.Plan) map[string]any {
	return map[string]any{
		"status":            p.Status,
		"owner_id":          p.OwnerID,
		"clinic_id":         p.ClinicID,
		"bill_cents":        p.Bill,
		"total_cents":       p.TotalWithFee,
		"deposit_cents":     p.Deposit,
		"installment_cents": p.Installment,
		"installment_count": p.InstallmentCount,
	}
}
