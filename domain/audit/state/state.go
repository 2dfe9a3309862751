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
	"github.com/canonical/vetpay/domain/audit"
)

// State provides persistence for the audit log.
type State struct {
	*domain.StateBase
}

// NewState returns a new audit State.
func NewState(factory database.TxnRunnerFactory) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
	}
}

// AppendEntry inserts an audit record within the given transaction.
func (st *State) AppendEntry(ctx domain.AtomicContext, entry audit.LogEntry) error {
	row := auditRow{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		OldValue:   nullString(entry.OldValue),
		NewValue:   nullString(entry.NewValue),
		ActorKind:  string(entry.Actor.Kind),
		ActorID:    nullString(entry.Actor.ID),
		CreatedAt:  entry.CreatedAt.UTC(),
	}

	stmt, err := st.Prepare(`
INSERT INTO audit_log (entity_type, entity_id, action, old_value, new_value, actor_kind, actor_id, created_at)
VALUES ($auditRow.entity_type, $auditRow.entity_id, $auditRow.action, $auditRow.old_value,
        $auditRow.new_value, $auditRow.actor_kind, $auditRow.actor_id, $auditRow.created_at)`, row)
	if err != nil {
		return errors.Annotate(err, "preparing audit insert")
	}

	return domain.Run(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, stmt, row).Run(); err != nil {
			return errors.Annotatef(err, "inserting audit entry for %s %q", entry.EntityType, entry.EntityID)
		}
		return nil
	})
}

// EntriesForEntity returns the audit trail of a single entity in insertion
// order.
func (st *State) EntriesForEntity(ctx context.Context, entityType, entityID string) ([]audit.LogEntry, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	ref := entityRef{EntityType: entityType, EntityID: entityID}
	stmt, err := st.Prepare(`
SELECT &auditRow.*
FROM   audit_log
WHERE  entity_type = $entityRef.entity_type
AND    entity_id = $entityRef.entity_id
ORDER BY id`, auditRow{}, ref)
	if err != nil {
		return nil, errors.Annotate(err, "preparing audit query")
	}

	var rows []auditRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, ref).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "reading audit trail for %s %q", entityType, entityID)
	}
	return toLogEntries(rows), nil
}

// EntriesSince returns every audit record created at or after since, in
// insertion order.
func (st *State) EntriesSince(ctx context.Context, t time.Time) ([]audit.LogEntry, error) {
	db, err := st.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	since := sinceTime{Since: t.UTC()}
	stmt, err := st.Prepare(`
SELECT &auditRow.*
FROM   audit_log
WHERE  created_at >= $sinceTime.since
ORDER BY id`, auditRow{}, since)
	if err != nil {
		return nil, errors.Annotate(err, "preparing audit query")
	}

	var rows []auditRow
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, since).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotate(err, "reading audit log")
	}
	return toLogEntries(rows), nil
}

func toLogEntries(rows []auditRow) []audit.LogEntry {
	entries := make([]audit.LogEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toLogEntry()
	}
	return entries
}
