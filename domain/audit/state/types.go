// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"database/sql"
	"time"

	"github.com/canonical/vetpay/domain/audit"
)

type auditRow struct {
	ID         int64          `db:"id"`
	EntityType string         `db:"entity_type"`
	EntityID   string         `db:"entity_id"`
	Action     string         `db:"action"`
	OldValue   sql.NullString `db:"old_value"`
	NewValue   sql.NullString `db:"new_value"`
	ActorKind  string         `db:"actor_kind"`
	ActorID    sql.NullString `db:"actor_id"`
	CreatedAt  time.Time      `db:"created_at"`
}

type entityRef struct {
	EntityType string `db:"entity_type"`
	EntityID   string `db:"entity_id"`
}

type sinceTime struct {
	Since time.Time `db:"since"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r auditRow) toLogEntry() audit.LogEntry {
	return audit.LogEntry{
		ID:         r.ID,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     r.Action,
		OldValue:   r.OldValue.String,
		NewValue:   r.NewValue.String,
		Actor: audit.Actor{
			Kind: audit.ActorKind(r.ActorKind),
			ID:   r.ActorID.String,
		},
		CreatedAt: r.CreatedAt.UTC(),
	}
}
