// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/database"
	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/collection"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	internaldatabase "github.com/canonical/vetpay/internal/database"
)

// State provides persistence for payment collection.
type State struct {
	*domain.StateBase
}

// NewState returns a new collection State.
func NewState(factory database.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// DuePayments returns the installments of active plans that are pending or
// retried and scheduled at or before now, earliest first.
func (st *State) DuePayments(ctx context.Context, now time.Time) ([]collection.DuePayment, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	due := dueBefore{Now: now.UTC()}
	stmt, err := st.Prepare(`
SELECT p.* AS &paymentRow.*,
       (pl.payer_reference, pl.clinic_id, pl.clinic_account, pl.owner_email, pl.owner_phone) AS (&chargeDetails.*)
FROM   payment AS p
JOIN   plan AS pl ON pl.uuid = p.plan_uuid
WHERE  p.type = 'installment'
AND    p.status IN ('pending', 'retried')
AND    p.scheduled_at <= $dueBefore.now
AND    pl.status = 'active'
ORDER BY p.scheduled_at, p.sequence`, paymentRow{}, chargeDetails{}, due)
	if err != nil {
		return nil, errors.Annotate(err, "preparing due payment query")
	}

	var (
		payments []paymentRow
		details  []chargeDetails
	)
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, due).GetAll(&payments, &details)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading due payments")
	}

	result := make([]collection.DuePayment, len(payments))
	for i := range payments {
		result[i] = toDuePayment(payments[i], details[i])
	}
	return result, nil
}

// GetDuePayment returns the payment with the given uuid with its charge
// details. An error satisfying [planerrors.PaymentNotFound] is returned if
// it does not exist.
func (st *State) GetDuePayment(ctx context.Context, paymentUUID string) (collection.DuePayment, error) {
	id := entityUUID{UUID: paymentUUID}
	stmt, err := st.Prepare(`
SELECT p.* AS &paymentRow.*,
       (pl.payer_reference, pl.clinic_id, pl.clinic_account, pl.owner_email, pl.owner_phone) AS (&chargeDetails.*)
FROM   payment AS p
JOIN   plan AS pl ON pl.uuid = p.plan_uuid
WHERE  p.uuid = $entityUUID.uuid`, paymentRow{}, chargeDetails{}, id)
	if err != nil {
		return collection.DuePayment{}, errors.Annotate(err, "preparing payment query")
	}
	due, err := st.getDuePayment(ctx, stmt, id)
	if errors.Is(err, sqlair.ErrNoRows) {
		return collection.DuePayment{}, errors.Annotatef(planerrors.PaymentNotFound, "payment %q", paymentUUID)
	}
	return due, errors.Annotatef(err, "reading payment %q", paymentUUID)
}

// DepositForPlan returns the deposit of a plan with its charge details. An
// error satisfying [planerrors.PaymentNotFound] is returned if the plan
// has no deposit.
func (st *State) DepositForPlan(ctx context.Context, planUUID string) (collection.DuePayment, error) {
	ref := planRef{PlanUUID: planUUID}
	stmt, err := st.Prepare(`
SELECT p.* AS &paymentRow.*,
       (pl.payer_reference, pl.clinic_id, pl.clinic_account, pl.owner_email, pl.owner_phone) AS (&chargeDetails.*)
FROM   payment AS p
JOIN   plan AS pl ON pl.uuid = p.plan_uuid
WHERE  p.plan_uuid = $planRef.plan_uuid
AND    p.type = 'deposit'`, paymentRow{}, chargeDetails{}, ref)
	if err != nil {
		return collection.DuePayment{}, errors.Annotate(err, "preparing deposit query")
	}
	due, err := st.getDuePayment(ctx, stmt, ref)
	if errors.Is(err, sqlair.ErrNoRows) {
		return collection.DuePayment{}, errors.Annotatef(planerrors.PaymentNotFound, "deposit of plan %q", planUUID)
	}
	return due, errors.Annotatef(err, "reading deposit of plan %q", planUUID)
}

func (st *State) getDuePayment(ctx context.Context, stmt *sqlair.Statement, arg any) (collection.DuePayment, error) {
	db, err := st.DB()
	if err != nil {
		return collection.DuePayment{}, errors.Trace(err)
	}

	var (
		payment paymentRow
		details chargeDetails
	)
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, arg).Get(&payment, &details))
	})
	if err != nil {
		return collection.DuePayment{}, errors.Trace(err)
	}
	return toDuePayment(payment, details), nil
}

// PaymentUUIDForReference returns the uuid of the payment charged under the
// given provider reference. An error satisfying
// [planerrors.PaymentNotFound] is returned if there is none.
func (st *State) PaymentUUIDForReference(ctx context.Context, reference string) (string, error) {
	db, err := st.DB()
	if err != nil {
		return "", errors.Trace(err)
	}

	ref := externalRef{ExternalRef: reference}
	stmt, err := st.Prepare(`
SELECT &entityUUID.uuid
FROM   payment
WHERE  external_ref = $externalRef.external_ref`, entityUUID{}, ref)
	if err != nil {
		return "", errors.Annotate(err, "preparing payment reference query")
	}

	var id entityUUID
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).Get(&id)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.Annotatef(planerrors.PaymentNotFound, "reference %q", reference)
		}
		return errors.Trace(err)
	})
	return id.UUID, errors.Trace(err)
}

// GetPaymentAtomic returns the payment with the given uuid within the
// given transaction. An error satisfying [planerrors.PaymentNotFound] is
// returned if it does not exist.
func (st *State) GetPaymentAtomic(ctx domain.AtomicContext, paymentUUID string) (plan.Payment, error) {
	id := entityUUID{UUID: paymentUUID}
	stmt, err := st.Prepare(`
SELECT &paymentRow.*
FROM   payment
WHERE  uuid = $entityUUID.uuid`, paymentRow{}, id)
	if err != nil {
		return plan.Payment{}, errors.Annotate(err, "preparing payment query")
	}

	var row paymentRow
	err = domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, id).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.Annotatef(planerrors.PaymentNotFound, "payment %q", paymentUUID)
		}
		return errors.Annotatef(err, "reading payment %q", paymentUUID)
	})
	if err != nil {
		return plan.Payment{}, errors.Trace(err)
	}
	return row.toPayment(), nil
}

// UpdatePayment writes the mutable fields of a payment, provided its
// status is still from. An error satisfying
// [planerrors.PaymentStatusConflict] is returned otherwise.
func (st *State) UpdatePayment(ctx domain.AtomicContext, from plan.PaymentStatus, p plan.Payment, now time.Time) error {
	update := paymentUpdate{
		UUID:          p.UUID,
		FromStatus:    string(from),
		Status:        string(p.Status),
		ExternalRef:   nullString(p.ExternalRef),
		FailureReason: nullString(p.FailureReason),
		RetryCount:    p.RetryCount,
		ScheduledAt:   p.ScheduledAt.UTC(),
		ProcessedAt:   nullTime(p.ProcessedAt),
		UpdatedAt:     now.UTC(),
	}
	stmt, err := st.Prepare(`
UPDATE payment
SET    status = $paymentUpdate.status,
       external_ref = $paymentUpdate.external_ref,
       failure_reason = $paymentUpdate.failure_reason,
       retry_count = $paymentUpdate.retry_count,
       scheduled_at = $paymentUpdate.scheduled_at,
       processed_at = $paymentUpdate.processed_at,
       updated_at = $paymentUpdate.updated_at
WHERE  uuid = $paymentUpdate.uuid
AND    status = $paymentUpdate.from_status`, update)
	if err != nil {
		return errors.Annotate(err, "preparing payment update")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		err := tx.Query(ctx, stmt, update).Get(&outcome)
		if internaldatabase.IsErrConstraintUnique(err) {
			return errors.Annotatef(planerrors.PaymentStatusConflict, "reference %q already used", p.ExternalRef)
		} else if err != nil {
			return errors.Annotatef(err, "updating payment %q", p.UUID)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			return errors.Annotatef(planerrors.PaymentStatusConflict, "payment %q not %s", p.UUID, from)
		}
		return nil
	})
}

// GetPlanAtomic returns the collection view of a plan within the given
// transaction. An error satisfying [planerrors.PlanNotFound] is returned if
// it does not exist.
func (st *State) GetPlanAtomic(ctx domain.AtomicContext, planUUID string) (collection.PlanState, error) {
	id := entityUUID{UUID: planUUID}
	stmt, err := st.Prepare(`
SELECT &planRow.*
FROM   plan
WHERE  uuid = $entityUUID.uuid`, planRow{}, id)
	if err != nil {
		return collection.PlanState{}, errors.Annotate(err, "preparing plan query")
	}

	var row planRow
	err = domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, id).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.Annotatef(planerrors.PlanNotFound, "plan %q", planUUID)
		}
		return errors.Annotatef(err, "reading plan %q", planUUID)
	})
	if err != nil {
		return collection.PlanState{}, errors.Trace(err)
	}
	return row.toPlanState(), nil
}

// UpdatePlan writes the collection fields of a plan, provided its status
// is still from. An error satisfying [planerrors.PlanStatusConflict] is
// returned otherwise.
func (st *State) UpdatePlan(ctx domain.AtomicContext, from plan.Status, p collection.PlanState, now time.Time) error {
	update := planUpdate{
		UUID:           p.UUID,
		FromStatus:     string(from),
		Status:         string(p.Status),
		RemainingCents: int64(p.Remaining),
		DepositPaidAt:  nullTime(p.DepositPaidAt),
		NextPaymentAt:  nullTime(p.NextPaymentAt),
		CompletedAt:    nullTime(p.CompletedAt),
		UpdatedAt:      now.UTC(),
	}
	stmt, err := st.Prepare(`
UPDATE plan
SET    status = $planUpdate.status,
       remaining_cents = $planUpdate.remaining_cents,
       deposit_paid_at = $planUpdate.deposit_paid_at,
       next_payment_at = $planUpdate.next_payment_at,
       completed_at = $planUpdate.completed_at,
       updated_at = $planUpdate.updated_at
WHERE  uuid = $planUpdate.uuid
AND    status = $planUpdate.from_status`, update)
	if err != nil {
		return errors.Annotate(err, "preparing plan update")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, update).Get(&outcome); err != nil {
			return errors.Annotatef(err, "updating plan %q", p.UUID)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			return errors.Annotatef(planerrors.PlanStatusConflict, "plan %q not %s", p.UUID, from)
		}
		return nil
	})
}

// CountUnsettled returns the number of the plan's payments that have not
// succeeded.
func (st *State) CountUnsettled(ctx domain.AtomicContext, planUUID string) (int, error) {
	ref := planRef{PlanUUID: planUUID}
	stmt, err := st.Prepare(`
SELECT COUNT(*) AS &count.count
FROM   payment
WHERE  plan_uuid = $planRef.plan_uuid
AND    status != 'succeeded'`, count{}, ref)
	if err != nil {
		return 0, errors.Annotate(err, "preparing unsettled payment query")
	}

	var result count
	err = domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, ref).Get(&result))
	})
	return result.Count, errors.Annotatef(err, "counting unsettled payments of plan %q", planUUID)
}

// NextDueAt returns the earliest scheduled time of the plan's payments
// that are still to be collected, or nil if there are none.
func (st *State) NextDueAt(ctx domain.AtomicContext, planUUID string) (*time.Time, error) {
	ref := planRef{PlanUUID: planUUID}
	stmt, err := st.Prepare(`
SELECT &nextDue.scheduled_at
FROM   payment
WHERE  plan_uuid = $planRef.plan_uuid
AND    status IN ('pending', 'processing', 'failed', 'retried')
ORDER BY scheduled_at
LIMIT 1`, nextDue{}, ref)
	if err != nil {
		return nil, errors.Annotate(err, "preparing next payment query")
	}

	var result nextDue
	err = domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).Get(&result)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading next payment of plan %q", planUUID)
	}
	return timePtr(result.ScheduledAt), nil
}

// UnpaidBalance returns the sum of the plan's pending, failed, retried and
// written off payments.
func (st *State) UnpaidBalance(ctx domain.AtomicContext, planUUID string) (money.Cents, error) {
	ref := planRef{PlanUUID: planUUID}
	stmt, err := st.Prepare(`
SELECT COALESCE(SUM(amount_cents), 0) AS &balance.total
FROM   payment
WHERE  plan_uuid = $planRef.plan_uuid
AND    status IN ('pending', 'failed', 'retried', 'written_off')`, balance{}, ref)
	if err != nil {
		return 0, errors.Annotate(err, "preparing unpaid balance query")
	}

	var result balance
	err = domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, ref).Get(&result))
	})
	return money.Cents(result.Total), errors.Annotatef(err, "reading unpaid balance of plan %q", planUUID)
}

// OpenPayments returns the plan's pending, failed and retried payments
// ordered by sequence.
func (st *State) OpenPayments(ctx domain.AtomicContext, planUUID string) ([]plan.Payment, error) {
	ref := planRef{PlanUUID: planUUID}
	stmt, err := st.Prepare(`
SELECT &paymentRow.*
FROM   payment
WHERE  plan_uuid = $planRef.plan_uuid
AND    status IN ('pending', 'failed', 'retried')
ORDER BY sequence`, paymentRow{}, ref)
	if err != nil {
		return nil, errors.Annotate(err, "preparing open payment query")
	}

	var rows []paymentRow
	err = domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading open payments of plan %q", planUUID)
	}

	payments := make([]plan.Payment, len(rows))
	for i, r := range rows {
		payments[i] = r.toPayment()
	}
	return payments, nil
}

// PlansNeedingDefault returns the active plans with at least one written
// off payment.
func (st *State) PlansNeedingDefault(ctx context.Context) ([]string, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := st.Prepare(`
SELECT DISTINCT pl.uuid AS &entityUUID.uuid
FROM   plan AS pl
JOIN   payment AS p ON p.plan_uuid = pl.uuid
WHERE  pl.status = 'active'
AND    p.status = 'written_off'
ORDER BY pl.uuid`, entityUUID{})
	if err != nil {
		return nil, errors.Annotate(err, "preparing default candidate query")
	}

	var rows []entityUUID
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading default candidates")
	}

	uuids := make([]string, len(rows))
	for i, r := range rows {
		uuids[i] = r.UUID
	}
	return uuids, nil
}
