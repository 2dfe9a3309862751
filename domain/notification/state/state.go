// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/database"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/notification"
)

// State persists notification opt-outs and delivery counters, so that
// limits hold across process restarts and across instances.
type State struct {
	*domain.StateBase
	clock clock.Clock
}

// NewState returns a new notification State.
func NewState(factory database.TxnRunnerFactory, clock clock.Clock) *State {
	return &State{
		StateBase: domain.NewStateBase(factory),
		clock:     clock,
	}
}

// Allow counts a delivery against key and reports whether the count is
// within limit for the current window. The window starts with the first
// delivery after the previous one expired.
func (st *State) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	db, err := st.DB()
	if err != nil {
		return false, errors.Trace(err)
	}

	ref := throttleKey{Key: key}
	selectStmt, err := st.Prepare(`
SELECT &throttleRow.*
FROM   notification_throttle
WHERE  key = $throttleKey.key`, throttleRow{}, ref)
	if err != nil {
		return false, errors.Annotate(err, "preparing throttle query")
	}
	upsertStmt, err := st.Prepare(`
INSERT INTO notification_throttle (key, count, expires_at)
VALUES ($throttleRow.key, $throttleRow.count, $throttleRow.expires_at)
ON CONFLICT (key) DO UPDATE SET
    count = excluded.count,
    expires_at = excluded.expires_at`, throttleRow{})
	if err != nil {
		return false, errors.Annotate(err, "preparing throttle upsert")
	}

	now := st.clock.Now().UTC()
	var allowed bool
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var row throttleRow
		err := tx.Query(ctx, selectStmt, ref).Get(&row)
		if err != nil && !errors.Is(err, sqlair.ErrNoRows) {
			return errors.Trace(err)
		}
		if errors.Is(err, sqlair.ErrNoRows) || !row.ExpiresAt.After(now) {
			row = throttleRow{Key: key, ExpiresAt: now.Add(window)}
		}
		row.Count++
		allowed = row.Count <= limit
		return errors.Trace(tx.Query(ctx, upsertStmt, row).Run())
	})
	if err != nil {
		return false, errors.Annotatef(err, "throttling %q", key)
	}
	return allowed, nil
}

// PruneExpired removes counters whose window has passed.
func (st *State) PruneExpired(ctx context.Context) (int64, error) {
	db, err := st.DB()
	if err != nil {
		return 0, errors.Trace(err)
	}

	arg := expiry{Now: st.clock.Now().UTC()}
	stmt, err := st.Prepare(`
DELETE FROM notification_throttle
WHERE  expires_at <= $expiry.now`, arg)
	if err != nil {
		return 0, errors.Annotate(err, "preparing throttle prune")
	}

	var removed int64
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, arg).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		removed, err = outcome.Result().RowsAffected()
		return errors.Trace(err)
	})
	return removed, errors.Annotate(err, "pruning throttle counters")
}

// OptOut stops all deliveries to a recipient on a channel. Repeated
// opt-outs are ignored.
func (st *State) OptOut(ctx context.Context, recipient string, channel notification.Channel) error {
	db, err := st.DB()
	if err != nil {
		return errors.Trace(err)
	}

	row := optOutRow{
		Recipient: recipient,
		Channel:   string(channel),
		CreatedAt: st.clock.Now().UTC(),
	}
	stmt, err := st.Prepare(`
INSERT INTO notification_opt_out (recipient, channel, created_at)
VALUES ($optOutRow.recipient, $optOutRow.channel, $optOutRow.created_at)
ON CONFLICT DO NOTHING`, row)
	if err != nil {
		return errors.Annotate(err, "preparing opt-out insert")
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, row).Run())
	})
	return errors.Annotatef(err, "opting out %q from %s", recipient, channel)
}

// IsOptedOut reports whether a recipient has opted out of a channel.
func (st *State) IsOptedOut(ctx context.Context, recipient string, channel notification.Channel) (bool, error) {
	db, err := st.DB()
	if err != nil {
		return false, errors.Trace(err)
	}

	key := optOutKey{Recipient: recipient, Channel: string(channel)}
	stmt, err := st.Prepare(`
SELECT COUNT(*) AS &count.count
FROM   notification_opt_out
WHERE  recipient = $optOutKey.recipient
AND    channel = $optOutKey.channel`, count{}, key)
	if err != nil {
		return false, errors.Annotate(err, "preparing opt-out query")
	}

	var result count
	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, key).Get(&result))
	})
	if err != nil {
		return false, errors.Annotatef(err, "reading opt-out for %q", recipient)
	}
	return result.Count > 0, nil
}
