// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"database/sql"
	"time"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/softcollection"
)

type recordRow struct {
	UUID             string         `db:"uuid"`
	PlanUUID         string         `db:"plan_uuid"`
	Stage            string         `db:"stage"`
	OutstandingCents int64          `db:"outstanding_cents"`
	RecoveredCents   int64          `db:"recovered_cents"`
	CancelReason     sql.NullString `db:"cancel_reason"`
	StartedAt        time.Time      `db:"started_at"`
	LastEscalatedAt  sql.NullTime   `db:"last_escalated_at"`
	NextEscalationAt sql.NullTime   `db:"next_escalation_at"`
	ClosedAt         sql.NullTime   `db:"closed_at"`
}

type stageUpdate struct {
	UUID             string         `db:"uuid"`
	FromStage        string         `db:"from_stage"`
	Stage            string         `db:"stage"`
	RecoveredCents   int64          `db:"recovered_cents"`
	CancelReason     sql.NullString `db:"cancel_reason"`
	LastEscalatedAt  sql.NullTime   `db:"last_escalated_at"`
	NextEscalationAt sql.NullTime   `db:"next_escalation_at"`
	ClosedAt         sql.NullTime   `db:"closed_at"`
}

type planRef struct {
	PlanUUID string `db:"plan_uuid"`
}

type planContact struct {
	UUID       string `db:"uuid"`
	Status     string `db:"status"`
	OwnerEmail string `db:"owner_email"`
	OwnerPhone string `db:"owner_phone"`
}

type balance struct {
	Total int64 `db:"total"`
}

type dueBefore struct {
	Now time.Time `db:"now"`
}

type defaultedPlan struct {
	UUID string `db:"uuid"`
}

type defaultedStatus struct {
	Status string `db:"status"`
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r recordRow) toRecord() softcollection.Record {
	return softcollection.Record{
		UUID:             r.UUID,
		PlanUUID:         r.PlanUUID,
		Stage:            softcollection.Stage(r.Stage),
		Outstanding:      money.Cents(r.OutstandingCents),
		Recovered:        money.Cents(r.RecoveredCents),
		CancelReason:     r.CancelReason.String,
		StartedAt:        r.StartedAt.UTC(),
		LastEscalatedAt:  timePtr(r.LastEscalatedAt),
		NextEscalationAt: timePtr(r.NextEscalationAt),
		ClosedAt:         timePtr(r.ClosedAt),
	}
}
