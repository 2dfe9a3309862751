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
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/domain/softcollection"
	softcollectionerrors "github.com/canonical/vetpay/domain/softcollection/errors"
	internaldatabase "github.com/canonical/vetpay/internal/database"
)

// State provides persistence for soft collection records.
type State struct {
	*domain.StateBase
}

// NewState returns a new soft collection State.
func NewState(factory database.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// InsertRecord creates the soft collection record of a plan. An error
// satisfying [softcollectionerrors.SoftCollectionAlreadyExists] is
// returned if the plan already has one.
func (st *State) InsertRecord(ctx domain.AtomicContext, rec softcollection.Record) error {
	row := recordRow{
		UUID:             rec.UUID,
		PlanUUID:         rec.PlanUUID,
		Stage:            string(rec.Stage),
		OutstandingCents: int64(rec.Outstanding),
		RecoveredCents:   int64(rec.Recovered),
		CancelReason:     nullString(rec.CancelReason),
		StartedAt:        rec.StartedAt.UTC(),
		LastEscalatedAt:  nullTime(rec.LastEscalatedAt),
		NextEscalationAt: nullTime(rec.NextEscalationAt),
		ClosedAt:         nullTime(rec.ClosedAt),
	}
	stmt, err := st.Prepare(`
INSERT INTO soft_collection (uuid, plan_uuid, stage, outstanding_cents, recovered_cents, cancel_reason,
                             started_at, last_escalated_at, next_escalation_at, closed_at)
VALUES ($recordRow.uuid, $recordRow.plan_uuid, $recordRow.stage, $recordRow.outstanding_cents,
        $recordRow.recovered_cents, $recordRow.cancel_reason, $recordRow.started_at,
        $recordRow.last_escalated_at, $recordRow.next_escalation_at, $recordRow.closed_at)`, row)
	if err != nil {
		return errors.Annotate(err, "preparing soft collection insert")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, row).Run()
		if internaldatabase.IsErrConstraintUnique(err) {
			return errors.Annotatef(softcollectionerrors.SoftCollectionAlreadyExists, "plan %q", rec.PlanUUID)
		} else if err != nil {
			return errors.Annotatef(err, "inserting soft collection for plan %q", rec.PlanUUID)
		}
		return nil
	})
}

// GetRecord returns the soft collection record of a plan. An error
// satisfying [softcollectionerrors.SoftCollectionNotFound] is returned if
// there is none.
func (st *State) GetRecord(ctx context.Context, planUUID string) (softcollection.Record, error) {
	db, err := st.DB()
	if err != nil {
		return softcollection.Record{}, errors.Trace(err)
	}

	var rec softcollection.Record
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		rec, err = st.getRecord(ctx, tx, planUUID)
		return errors.Trace(err)
	})
	return rec, errors.Trace(err)
}

// GetRecordAtomic returns the soft collection record of a plan within the
// given transaction.
func (st *State) GetRecordAtomic(ctx domain.AtomicContext, planUUID string) (softcollection.Record, error) {
	var rec softcollection.Record
	err := domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		rec, err = st.getRecord(ctx, tx, planUUID)
		return errors.Trace(err)
	})
	return rec, errors.Trace(err)
}

func (st *State) getRecord(ctx context.Context, tx *sqlair.TX, planUUID string) (softcollection.Record, error) {
	ref := planRef{PlanUUID: planUUID}
	stmt, err := st.Prepare(`
SELECT &recordRow.*
FROM   soft_collection
WHERE  plan_uuid = $planRef.plan_uuid`, recordRow{}, ref)
	if err != nil {
		return softcollection.Record{}, errors.Annotate(err, "preparing soft collection query")
	}

	var row recordRow
	err = tx.Query(ctx, stmt, ref).Get(&row)
	if errors.Is(err, sqlair.ErrNoRows) {
		return softcollection.Record{}, errors.Annotatef(softcollectionerrors.SoftCollectionNotFound, "plan %q", planUUID)
	} else if err != nil {
		return softcollection.Record{}, errors.Annotatef(err, "reading soft collection for plan %q", planUUID)
	}
	return row.toRecord(), nil
}

// UpdateRecord writes the mutable fields of a record, provided it is still
// at fromStage. An error satisfying
// [softcollectionerrors.SoftCollectionStageConflict] is returned
// otherwise.
func (st *State) UpdateRecord(ctx domain.AtomicContext, fromStage softcollection.Stage, rec softcollection.Record) error {
	update := stageUpdate{
		UUID:             rec.UUID,
		FromStage:        string(fromStage),
		Stage:            string(rec.Stage),
		RecoveredCents:   int64(rec.Recovered),
		CancelReason:     nullString(rec.CancelReason),
		LastEscalatedAt:  nullTime(rec.LastEscalatedAt),
		NextEscalationAt: nullTime(rec.NextEscalationAt),
		ClosedAt:         nullTime(rec.ClosedAt),
	}
	stmt, err := st.Prepare(`
UPDATE soft_collection
SET    stage = $stageUpdate.stage,
       recovered_cents = $stageUpdate.recovered_cents,
       cancel_reason = $stageUpdate.cancel_reason,
       last_escalated_at = $stageUpdate.last_escalated_at,
       next_escalation_at = $stageUpdate.next_escalation_at,
       closed_at = $stageUpdate.closed_at
WHERE  uuid = $stageUpdate.uuid
AND    stage = $stageUpdate.from_stage`, update)
	if err != nil {
		return errors.Annotate(err, "preparing soft collection update")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, update).Get(&outcome); err != nil {
			return errors.Annotatef(err, "updating soft collection %q", rec.UUID)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			return errors.Annotatef(softcollectionerrors.SoftCollectionStageConflict, "record %q not at %s", rec.UUID, fromStage)
		}
		return nil
	})
}

// PendingEscalations returns the open records whose next escalation is due
// at or before now, oldest first.
func (st *State) PendingEscalations(ctx context.Context, now time.Time) ([]softcollection.Record, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	due := dueBefore{Now: now.UTC()}
	stmt, err := st.Prepare(`
SELECT &recordRow.*
FROM   soft_collection
WHERE  stage NOT IN ('completed', 'cancelled')
AND    next_escalation_at IS NOT NULL
AND    next_escalation_at <= $dueBefore.now
ORDER BY next_escalation_at`, recordRow{}, due)
	if err != nil {
		return nil, errors.Annotate(err, "preparing pending escalation query")
	}

	var rows []recordRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, due).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading pending escalations")
	}

	records := make([]softcollection.Record, len(rows))
	for i, r := range rows {
		records[i] = r.toRecord()
	}
	return records, nil
}

// GetContact returns the owner contact details and status of a plan. An
// error satisfying [planerrors.PlanNotFound] is returned if the plan does
// not exist.
func (st *State) GetContact(ctx context.Context, planUUID string) (softcollection.Contact, error) {
	db, err := st.DB()
	if err != nil {
		return softcollection.Contact{}, errors.Trace(err)
	}

	contact := planContact{UUID: planUUID}
	stmt, err := st.Prepare(`
SELECT &planContact.*
FROM   plan
WHERE  uuid = $planContact.uuid`, contact)
	if err != nil {
		return softcollection.Contact{}, errors.Annotate(err, "preparing plan contact query")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, contact).Get(&contact)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.Annotatef(planerrors.PlanNotFound, "plan %q", planUUID)
		}
		return errors.Trace(err)
	})
	if err != nil {
		return softcollection.Contact{}, errors.Trace(err)
	}
	return softcollection.Contact{
		PlanStatus: contact.Status,
		Email:      contact.OwnerEmail,
		Phone:      contact.OwnerPhone,
	}, nil
}

// OutstandingBalance returns the sum of the plan's payments that have not
// been collected.
func (st *State) OutstandingBalance(ctx context.Context, planUUID string) (money.Cents, error) {
	db, err := st.DB()
	if err != nil {
		return 0, errors.Trace(err)
	}

	ref := planRef{PlanUUID: planUUID}
	stmt, err := st.Prepare(`
SELECT COALESCE(SUM(amount_cents), 0) AS &balance.total
FROM   payment
WHERE  plan_uuid = $planRef.plan_uuid
AND    status IN ('pending', 'failed', 'retried', 'written_off')`, balance{}, ref)
	if err != nil {
		return 0, errors.Annotate(err, "preparing outstanding balance query")
	}

	var result balance
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, ref).Get(&result))
	})
	if err != nil {
		return 0, errors.Annotatef(err, "reading outstanding balance of plan %q", planUUID)
	}
	return money.Cents(result.Total), nil
}

// DefaultedPlansWithoutRecord returns the defaulted plans for which soft
// collection has not been started.
func (st *State) DefaultedPlansWithoutRecord(ctx context.Context) ([]string, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	status := defaultedStatus{Status: "defaulted"}
	stmt, err := st.Prepare(`
SELECT p.uuid AS &defaultedPlan.uuid
FROM   plan AS p
LEFT JOIN soft_collection AS sc ON sc.plan_uuid = p.uuid
WHERE  p.status = $defaultedStatus.status
AND    sc.uuid IS NULL
ORDER BY p.created_at`, defaultedPlan{}, status)
	if err != nil {
		return nil, errors.Annotate(err, "preparing defaulted plan query")
	}

	var rows []defaultedPlan
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, status).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading defaulted plans")
	}

	uuids := make([]string, len(rows))
	for i, r := range rows {
		uuids[i] = r.UUID
	}
	return uuids, nil
}
