// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"time"
)

type entryRow struct {
	UUID        string    `db:"uuid"`
	PlanUUID    string    `db:"plan_uuid"`
	Kind        string    `db:"kind"`
	AmountCents int64     `db:"amount_cents"`
	CreatedAt   time.Time `db:"created_at"`
}

type kindTotal struct {
	Kind  string `db:"kind"`
	Total int64  `db:"total"`
}

type exposure struct {
	Total int64 `db:"total"`
	Count int   `db:"count"`
}

type planRef struct {
	UUID string `db:"uuid"`
}

type activeStatus struct {
	Status string `db:"status"`
}
