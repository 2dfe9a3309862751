// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"database/sql"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/domain/schema"
	databasetesting "github.com/canonical/vetpay/internal/database/testing"
)

// LedgerSuite is used to provide a sql.DB reference to tests.
// It is pre-populated with the ledger schema.
type LedgerSuite struct {
	databasetesting.SQLiteSuite
}

// SetUpTest is responsible for setting up a testing database suite
// initialised with the ledger schema.
func (s *LedgerSuite) SetUpTest(c *gc.C) {
	s.SQLiteSuite.SetUpTest(c)
	s.SQLiteSuite.ApplyDDL(c, schema.LedgerDDL())
}

// PlanArgs describes a plan row inserted directly for tests.
type PlanArgs struct {
	UUID           string
	Status         string
	RemainingCents int64
	CreatedAt      time.Time
}

// SeedPlan inserts a bare plan row, bypassing enrollment, and returns its
// uuid. Amount columns other than the remaining balance are filled with
// fixed plausible values.
func (s *LedgerSuite) SeedPlan(c *gc.C, args PlanArgs) string {
	if args.Status == "" {
		args.Status = "active"
	}
	if args.CreatedAt.IsZero() {
		args.CreatedAt = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	}
	err := s.TxnRunner().StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO plan (
    uuid, owner_id, owner_email, owner_phone, payer_reference, clinic_id, clinic_account,
    bill_cents, fee_cents, total_cents, deposit_cents, remaining_cents,
    installment_cents, installment_count, status, created_at, updated_at
) VALUES (?, 'owner-1', 'owner@example.com', '+15555550100', 'pm-1', 'clinic-1', 'acct-1',
    100000, 6000, 106000, 26500, ?, 13250, 6, ?, ?, ?)`,
			args.UUID, args.RemainingCents, args.Status, args.CreatedAt, args.CreatedAt)
		return err
	})
	c.Assert(err, jc.ErrorIsNil)
	return args.UUID
}

// PaymentArgs describes a payment row inserted directly for tests.
type PaymentArgs struct {
	UUID        string
	PlanUUID    string
	Type        string
	Sequence    int
	AmountCents int64
	Status      string
	RetryCount  int
	ScheduledAt time.Time
	ExternalRef string
}

// SeedPayment inserts a bare payment row and returns its uuid.
func (s *LedgerSuite) SeedPayment(c *gc.C, args PaymentArgs) string {
	if args.Type == "" {
		args.Type = "installment"
	}
	if args.Status == "" {
		args.Status = "pending"
	}
	if args.ScheduledAt.IsZero() {
		args.ScheduledAt = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	}
	var ref sql.NullString
	if args.ExternalRef != "" {
		ref = sql.NullString{String: args.ExternalRef, Valid: true}
	}
	err := s.TxnRunner().StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO payment (
    uuid, plan_uuid, type, sequence, amount_cents, status, external_ref,
    retry_count, scheduled_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args.UUID, args.PlanUUID, args.Type, args.Sequence, args.AmountCents,
			args.Status, ref, args.RetryCount, args.ScheduledAt, args.ScheduledAt)
		return err
	})
	c.Assert(err, jc.ErrorIsNil)
	return args.UUID
}

// CountRows returns the number of rows in the table matching the where
// clause.
func (s *LedgerSuite) CountRows(c *gc.C, table, where string, args ...any) int {
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var count int
	err := s.DB().QueryRow(query, args...).Scan(&count)
	c.Assert(err, jc.ErrorIsNil)
	return count
}
