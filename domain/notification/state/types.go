// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"time"
)

type throttleRow struct {
	Key       string    `db:"key"`
	Count     int       `db:"count"`
	ExpiresAt time.Time `db:"expires_at"`
}

type throttleKey struct {
	Key string `db:"key"`
}

type optOutRow struct {
	Recipient string    `db:"recipient"`
	Channel   string    `db:"channel"`
	CreatedAt time.Time `db:"created_at"`
}

type optOutKey struct {
	Recipient string `db:"recipient"`
	Channel   string `db:"channel"`
}

type count struct {
	Count int `db:"count"`
}

type expiry struct {
	Now time.Time `db:"now"`
}
