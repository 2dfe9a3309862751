// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/database"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
)

// State provides persistence for plans and their payment schedules.
type State struct {
	*domain.StateBase
}

// NewState returns a new plan State.
func NewState(factory database.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// InsertPlan writes a new plan together with its payments within the
// given transaction.
func (st *State) InsertPlan(ctx domain.AtomicContext, p plan.Plan, payments []plan.Payment, now time.Time) error {
	row := fromPlan(p, now)
	planStmt, err := st.Prepare(`
INSERT INTO plan (*) VALUES ($planRow.*)`, row)
	if err != nil {
		return errors.Annotate(err, "preparing plan insert")
	}
	paymentStmt, err := st.Prepare(`
INSERT INTO payment (*) VALUES ($paymentRow.*)`, paymentRow{})
	if err != nil {
		return errors.Annotate(err, "preparing payment insert")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, planStmt, row).Run(); err != nil {
			return errors.Annotatef(err, "inserting plan %q", p.UUID)
		}
		for _, payment := range payments {
			if err := tx.Query(ctx, paymentStmt, fromPayment(payment, now)).Run(); err != nil {
				return errors.Annotatef(err, "inserting payment %d of plan %q", payment.Sequence, p.UUID)
			}
		}
		return nil
	})
}

// GetPlan returns the plan with the given uuid. An error satisfying
// [planerrors.PlanNotFound] is returned if it does not exist.
func (st *State) GetPlan(ctx context.Context, uuid string) (plan.Plan, error) {
	db, err := st.DB()
	if err != nil {
		return plan.Plan{}, errors.Trace(err)
	}

	var p plan.Plan
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		p, err = st.getPlan(ctx, tx, uuid)
		return errors.Trace(err)
	})
	return p, errors.Trace(err)
}

// GetPlanAtomic returns the plan with the given uuid within the given
// transaction.
func (st *State) GetPlanAtomic(ctx domain.AtomicContext, uuid string) (plan.Plan, error) {
	var p plan.Plan
	err := domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		p, err = st.getPlan(ctx, tx, uuid)
		return errors.Trace(err)
	})
	return p, errors.Trace(err)
}

func (st *State) getPlan(ctx context.Context, tx *sqlair.TX, uuid string) (plan.Plan, error) {
	id := planUUID{UUID: uuid}
	stmt, err := st.Prepare(`
SELECT &planRow.*
FROM   plan
WHERE  uuid = $planUUID.uuid`, planRow{}, id)
	if err != nil {
		return plan.Plan{}, errors.Annotate(err, "preparing plan query")
	}

	var row planRow
	err = tx.Query(ctx, stmt, id).Get(&row)
	if errors.Is(err, sqlair.ErrNoRows) {
		return plan.Plan{}, errors.Annotatef(planerrors.PlanNotFound, "plan %q", uuid)
	} else if err != nil {
		return plan.Plan{}, errors.Annotatef(err, "reading plan %q", uuid)
	}
	return row.toPlan(), nil
}

// PaymentsForPlan returns the payments of a plan ordered by sequence.
func (st *State) PaymentsForPlan(ctx context.Context, uuid string) ([]plan.Payment, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	ref := paymentPlan{PlanUUID: uuid}
	stmt, err := st.Prepare(`
SELECT &paymentRow.*
FROM   payment
WHERE  plan_uuid = $paymentPlan.plan_uuid
ORDER BY sequence`, paymentRow{}, ref)
	if err != nil {
		return nil, errors.Annotate(err, "preparing payment query")
	}

	var rows []paymentRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading payments of plan %q", uuid)
	}

	payments := make([]plan.Payment, len(rows))
	for i, r := range rows {
		payments[i] = r.toPayment()
	}
	return payments, nil
}

// PlansWithStatus returns the plans in the given status, oldest first.
func (st *State) PlansWithStatus(ctx context.Context, status plan.Status) ([]plan.Plan, error) {
	arg := planStatus{Status: string(status)}
	stmt, err := st.Prepare(`
SELECT &planRow.*
FROM   plan
WHERE  status = $planStatus.status
ORDER BY created_at`, planRow{}, arg)
	if err != nil {
		return nil, errors.Annotate(err, "preparing plan status query")
	}
	plans, err := st.queryPlans(ctx, stmt, arg)
	return plans, errors.Annotatef(err, "reading %s plans", status)
}

// PlansForClinic returns the plans paying out to the given clinic, oldest
// first.
func (st *State) PlansForClinic(ctx context.Context, clinicID string) ([]plan.Plan, error) {
	arg := clinicRef{ClinicID: clinicID}
	stmt, err := st.Prepare(`
SELECT &planRow.*
FROM   plan
WHERE  clinic_id = $clinicRef.clinic_id
ORDER BY created_at`, planRow{}, arg)
	if err != nil {
		return nil, errors.Annotate(err, "preparing clinic plan query")
	}
	plans, err := st.queryPlans(ctx, stmt, arg)
	return plans, errors.Annotatef(err, "reading plans of clinic %q", clinicID)
}

func (st *State) queryPlans(ctx context.Context, stmt *sqlair.Statement, arg any) ([]plan.Plan, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []planRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, arg).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	plans := make([]plan.Plan, len(rows))
	for i, r := range rows {
		plans[i] = r.toPlan()
	}
	return plans, nil
}

// UpdatePlanStatus moves a plan from one status to another. An error
// satisfying [planerrors.PlanStatusConflict] is returned if the plan is no
// longer in the expected status.
func (st *State) UpdatePlanStatus(ctx domain.AtomicContext, uuid string, from, to plan.Status, now time.Time) error {
	update := statusUpdate{
		UUID:       uuid,
		FromStatus: string(from),
		Status:     string(to),
		UpdatedAt:  now.UTC(),
	}
	stmt, err := st.Prepare(`
UPDATE plan
SET    status = $statusUpdate.status,
       updated_at = $statusUpdate.updated_at
WHERE  uuid = $statusUpdate.uuid
AND    status = $statusUpdate.from_status`, update)
	if err != nil {
		return errors.Annotate(err, "preparing plan status update")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, update).Get(&outcome); err != nil {
			return errors.Annotatef(err, "updating plan %q", uuid)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			return errors.Annotatef(planerrors.PlanStatusConflict, "plan %q not %s", uuid, from)
		}
		return nil
	})
}
