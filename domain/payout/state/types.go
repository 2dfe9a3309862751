// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"database/sql"
	"time"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/payout"
)

type payoutRow struct {
	UUID             string         `db:"uuid"`
	PaymentUUID      string         `db:"payment_uuid"`
	PlanUUID         string         `db:"plan_uuid"`
	ClinicID         string         `db:"clinic_id"`
	AmountCents      int64          `db:"amount_cents"`
	ClinicShareCents int64          `db:"clinic_share_cents"`
	TransferRef      sql.NullString `db:"transfer_ref"`
	Status           string         `db:"status"`
	FailureReason    sql.NullString `db:"failure_reason"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

type statusUpdate struct {
	UUID          string         `db:"uuid"`
	FromStatus    string         `db:"from_status"`
	Status        string         `db:"status"`
	TransferRef   sql.NullString `db:"transfer_ref"`
	FailureReason sql.NullString `db:"failure_reason"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type paymentRef struct {
	PaymentUUID string `db:"payment_uuid"`
}

type clinicRef struct {
	ClinicID string `db:"clinic_id"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r payoutRow) toPayout() payout.Payout {
	return payout.Payout{
		UUID:          r.UUID,
		PaymentUUID:   r.PaymentUUID,
		PlanUUID:      r.PlanUUID,
		ClinicID:      r.ClinicID,
		Amount:        money.Cents(r.AmountCents),
		ClinicShare:   money.Cents(r.ClinicShareCents),
		TransferRef:   r.TransferRef.String,
		Status:        payout.Status(r.Status),
		FailureReason: r.FailureReason.String,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}
