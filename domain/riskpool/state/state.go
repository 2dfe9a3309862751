// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/database"
	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/plan"
	"github.com/canonical/vetpay/domain/riskpool"
)

// State provides persistence for the guarantee fund ledger.
type State struct {
	*domain.StateBase
}

// NewState returns a new guarantee fund State.
func NewState(factory database.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// InsertEntry appends an entry to the ledger within the given
// transaction.
func (st *State) InsertEntry(ctx domain.AtomicContext, entry riskpool.Entry) error {
	row := entryRow{
		UUID:        entry.UUID,
		PlanUUID:    entry.PlanUUID,
		Kind:        string(entry.Kind),
		AmountCents: int64(entry.Amount),
		CreatedAt:   entry.CreatedAt.UTC(),
	}
	stmt, err := st.Prepare(`
INSERT INTO risk_pool_entry (uuid, plan_uuid, kind, amount_cents, created_at)
VALUES ($entryRow.uuid, $entryRow.plan_uuid, $entryRow.kind, $entryRow.amount_cents, $entryRow.created_at)`, row)
	if err != nil {
		return errors.Annotate(err, "preparing risk pool insert")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, stmt, row).Run(); err != nil {
			return errors.Annotatef(err, "inserting %s for plan %q", entry.Kind, entry.PlanUUID)
		}
		return nil
	})
}

// Totals returns the per-kind sums over the whole ledger.
func (st *State) Totals(ctx context.Context) (riskpool.Totals, error) {
	db, err := st.DB()
	if err != nil {
		return riskpool.Totals{}, errors.Trace(err)
	}

	stmt, err := st.Prepare(`
SELECT &kindTotal.*
FROM (
    SELECT kind, SUM(amount_cents) AS total
    FROM   risk_pool_entry
    GROUP BY kind
)`, kindTotal{})
	if err != nil {
		return riskpool.Totals{}, errors.Annotate(err, "preparing risk pool totals")
	}

	var rows []kindTotal
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return riskpool.Totals{}, errors.Annotate(err, "reading risk pool totals")
	}

	var totals riskpool.Totals
	for _, r := range rows {
		switch riskpool.EntryKind(r.Kind) {
		case riskpool.KindContribution:
			totals.Contributions = money.Cents(r.Total)
		case riskpool.KindClaim:
			totals.Claims = money.Cents(r.Total)
		case riskpool.KindRecovery:
			totals.Recoveries = money.Cents(r.Total)
		default:
			return riskpool.Totals{}, errors.Errorf("unexpected risk pool entry kind %q", r.Kind)
		}
	}
	return totals, nil
}

// Exposure returns the sum of remaining balances across active plans and
// the number of such plans.
func (st *State) Exposure(ctx context.Context) (money.Cents, int, error) {
	db, err := st.DB()
	if err != nil {
		return 0, 0, errors.Trace(err)
	}

	status := activeStatus{Status: string(plan.StatusActive)}
	stmt, err := st.Prepare(`
SELECT COALESCE(SUM(remaining_cents), 0) AS &exposure.total,
       COUNT(*) AS &exposure.count
FROM   plan
WHERE  status = $activeStatus.status`, exposure{}, status)
	if err != nil {
		return 0, 0, errors.Annotate(err, "preparing exposure query")
	}

	var result exposure
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, status).Get(&result))
	})
	if err != nil {
		return 0, 0, errors.Annotate(err, "reading exposure")
	}
	return money.Cents(result.Total), result.Count, nil
}

// EntriesForPlan returns the ledger entries of a plan in creation order.
func (st *State) EntriesForPlan(ctx context.Context, planUUID string) ([]riskpool.Entry, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	ref := planRef{UUID: planUUID}
	stmt, err := st.Prepare(`
SELECT &entryRow.*
FROM   risk_pool_entry
WHERE  plan_uuid = $planRef.uuid
ORDER BY created_at, rowid`, entryRow{}, ref)
	if err != nil {
		return nil, errors.Annotate(err, "preparing risk pool query")
	}

	var rows []entryRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading risk pool entries for plan %q", planUUID)
	}
	return toEntries(rows), nil
}

// AllEntries returns the full ledger in creation order.
func (st *State) AllEntries(ctx context.Context) ([]riskpool.Entry, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := st.Prepare(`
SELECT &entryRow.*
FROM   risk_pool_entry
ORDER BY created_at, rowid`, entryRow{})
	if err != nil {
		return nil, errors.Annotate(err, "preparing risk pool query")
	}

	var rows []entryRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading risk pool ledger")
	}
	return toEntries(rows), nil
}

func toEntries(rows []entryRow) []riskpool.Entry {
	entries := make([]riskpool.Entry, len(rows))
	for i, r := range rows {
		entries[i] = riskpool.Entry{
			UUID:      r.UUID,
			PlanUUID:  r.PlanUUID,
			Kind:      riskpool.EntryKind(r.Kind),
			Amount:    money.Cents(r.AmountCents),
			CreatedAt: r.CreatedAt.UTC(),
		}
	}
	return entries
}
