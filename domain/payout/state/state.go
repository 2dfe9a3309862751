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
	"github.com/canonical/vetpay/domain/payout"
	payouterrors "github.com/canonical/vetpay/domain/payout/errors"
	internaldatabase "github.com/canonical/vetpay/internal/database"
)

// State provides persistence for clinic payouts.
type State struct {
	*domain.StateBase
}

// NewState returns a new payout State.
func NewState(factory database.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// InsertPayout records a new payout. An error satisfying
// [payouterrors.PayoutAlreadyExists] is returned if the payment already
// has a payout.
func (st *State) InsertPayout(ctx domain.AtomicContext, p payout.Payout) error {
	row := payoutRow{
		UUID:             p.UUID,
		PaymentUUID:      p.PaymentUUID,
		PlanUUID:         p.PlanUUID,
		ClinicID:         p.ClinicID,
		AmountCents:      int64(p.Amount),
		ClinicShareCents: int64(p.ClinicShare),
		TransferRef:      nullString(p.TransferRef),
		Status:           string(p.Status),
		FailureReason:    nullString(p.FailureReason),
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.CreatedAt.UTC(),
	}
	stmt, err := st.Prepare(`
INSERT INTO payout (uuid, payment_uuid, plan_uuid, clinic_id, amount_cents, clinic_share_cents,
                    transfer_ref, status, failure_reason, created_at, updated_at)
VALUES ($payoutRow.uuid, $payoutRow.payment_uuid, $payoutRow.plan_uuid, $payoutRow.clinic_id,
        $payoutRow.amount_cents, $payoutRow.clinic_share_cents, $payoutRow.transfer_ref,
        $payoutRow.status, $payoutRow.failure_reason, $payoutRow.created_at, $payoutRow.updated_at)`, row)
	if err != nil {
		return errors.Annotate(err, "preparing payout insert")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, row).Run()
		if internaldatabase.IsErrConstraintUnique(err) {
			return errors.Annotatef(payouterrors.PayoutAlreadyExists, "payment %q", p.PaymentUUID)
		} else if err != nil {
			return errors.Annotatef(err, "inserting payout for payment %q", p.PaymentUUID)
		}
		return nil
	})
}

// GetPayoutForPayment returns the payout of a payment. An error satisfying
// [payouterrors.PayoutNotFound] is returned if there is none.
func (st *State) GetPayoutForPayment(ctx context.Context, paymentUUID string) (payout.Payout, error) {
	db, err := st.DB()
	if err != nil {
		return payout.Payout{}, errors.Trace(err)
	}

	ref := paymentRef{PaymentUUID: paymentUUID}
	stmt, err := st.Prepare(`
SELECT &payoutRow.*
FROM   payout
WHERE  payment_uuid = $paymentRef.payment_uuid`, payoutRow{}, ref)
	if err != nil {
		return payout.Payout{}, errors.Annotate(err, "preparing payout query")
	}

	var row payoutRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.Annotatef(payouterrors.PayoutNotFound, "payment %q", paymentUUID)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return payout.Payout{}, errors.Trace(err)
	}
	return row.toPayout(), nil
}

// UpdatePayoutStatus moves a payout from one status to another, recording
// the transfer reference or failure reason. An error satisfying
// [payouterrors.PayoutStatusConflict] is returned if the payout is not in
// the expected status.
func (st *State) UpdatePayoutStatus(
	ctx domain.AtomicContext,
	uuid string,
	from, to payout.Status,
	transferRef, failureReason string,
	now time.Time,
) error {
	update := statusUpdate{
		UUID:          uuid,
		FromStatus:    string(from),
		Status:        string(to),
		TransferRef:   nullString(transferRef),
		FailureReason: nullString(failureReason),
		UpdatedAt:     now.UTC(),
	}
	stmt, err := st.Prepare(`
UPDATE payout
SET    status = $statusUpdate.status,
       transfer_ref = $statusUpdate.transfer_ref,
       failure_reason = $statusUpdate.failure_reason,
       updated_at = $statusUpdate.updated_at
WHERE  uuid = $statusUpdate.uuid
AND    status = $statusUpdate.from_status`, update)
	if err != nil {
		return errors.Annotate(err, "preparing payout update")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, update).Get(&outcome); err != nil {
			return errors.Annotatef(err, "updating payout %q", uuid)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			return errors.Annotatef(payouterrors.PayoutStatusConflict, "payout %q not %s", uuid, from)
		}
		return nil
	})
}

// PayoutsForClinic returns every payout of a clinic in creation order.
func (st *State) PayoutsForClinic(ctx context.Context, clinicID string) ([]payout.Payout, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	ref := clinicRef{ClinicID: clinicID}
	stmt, err := st.Prepare(`
SELECT &payoutRow.*
FROM   payout
WHERE  clinic_id = $clinicRef.clinic_id
ORDER BY created_at, rowid`, payoutRow{}, ref)
	if err != nil {
		return nil, errors.Annotate(err, "preparing payout query")
	}

	var rows []payoutRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading payouts for clinic %q", clinicID)
	}

	payouts := make([]payout.Payout, len(rows))
	for i, r := range rows {
		payouts[i] = r.toPayout()
	}
	return payouts, nil
}
