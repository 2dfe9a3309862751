// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"database/sql"
	"time"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/collection"
	"github.com/canonical/vetpay/domain/plan"
)

type paymentRow struct {
	UUID          string         `db:"uuid"`
	PlanUUID      string         `db:"plan_uuid"`
	Type          string         `db:"type"`
	Sequence      int            `db:"sequence"`
	AmountCents   int64          `db:"amount_cents"`
	Status        string         `db:"status"`
	ExternalRef   sql.NullString `db:"external_ref"`
	FailureReason sql.NullString `db:"failure_reason"`
	RetryCount    int            `db:"retry_count"`
	ScheduledAt   time.Time      `db:"scheduled_at"`
	ProcessedAt   sql.NullTime   `db:"processed_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type chargeDetails struct {
	PayerReference string `db:"payer_reference"`
	ClinicID       string `db:"clinic_id"`
	ClinicAccount  string `db:"clinic_account"`
	OwnerEmail     string `db:"owner_email"`
	OwnerPhone     string `db:"owner_phone"`
}

type planRow struct {
	UUID           string       `db:"uuid"`
	Status         string       `db:"status"`
	RemainingCents int64        `db:"remaining_cents"`
	ClinicID       string       `db:"clinic_id"`
	ClinicAccount  string       `db:"clinic_account"`
	OwnerEmail     string       `db:"owner_email"`
	OwnerPhone     string       `db:"owner_phone"`
	DepositPaidAt  sql.NullTime `db:"deposit_paid_at"`
	NextPaymentAt  sql.NullTime `db:"next_payment_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
}

type planUpdate struct {
	UUID           string       `db:"uuid"`
	FromStatus     string       `db:"from_status"`
	Status         string       `db:"status"`
	RemainingCents int64        `db:"remaining_cents"`
	DepositPaidAt  sql.NullTime `db:"deposit_paid_at"`
	NextPaymentAt  sql.NullTime `db:"next_payment_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

type paymentUpdate struct {
	UUID          string         `db:"uuid"`
	FromStatus    string         `db:"from_status"`
	Status        string         `db:"status"`
	ExternalRef   sql.NullString `db:"external_ref"`
	FailureReason sql.NullString `db:"failure_reason"`
	RetryCount    int            `db:"retry_count"`
	ScheduledAt   time.Time      `db:"scheduled_at"`
	ProcessedAt   sql.NullTime   `db:"processed_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type entityUUID struct {
	UUID string `db:"uuid"`
}

type planRef struct {
	PlanUUID string `db:"plan_uuid"`
}

type externalRef struct {
	ExternalRef string `db:"external_ref"`
}

type dueBefore struct {
	Now time.Time `db:"now"`
}

type count struct {
	Count int `db:"count"`
}

type balance struct {
	Total int64 `db:"total"`
}

type nextDue struct {
	ScheduledAt sql.NullTime `db:"scheduled_at"`
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

func (r paymentRow) toPayment() plan.Payment {
	return plan.Payment{
		UUID:          r.UUID,
		PlanUUID:      r.PlanUUID,
		Type:          plan.PaymentType(r.Type),
		Sequence:      r.Sequence,
		Amount:        money.Cents(r.AmountCents),
		Status:        plan.PaymentStatus(r.Status),
		ExternalRef:   r.ExternalRef.String,
		FailureReason: r.FailureReason.String,
		RetryCount:    r.RetryCount,
		ScheduledAt:   r.ScheduledAt.UTC(),
		ProcessedAt:   timePtr(r.ProcessedAt),
	}
}

func (r planRow) toPlanState() collection.PlanState {
	return collection.PlanState{
		UUID:          r.UUID,
		Status:        plan.Status(r.Status),
		Remaining:     money.Cents(r.RemainingCents),
		ClinicID:      r.ClinicID,
		ClinicAccount: r.ClinicAccount,
		OwnerEmail:    r.OwnerEmail,
		OwnerPhone:    r.OwnerPhone,
		DepositPaidAt: timePtr(r.DepositPaidAt),
		NextPaymentAt: timePtr(r.NextPaymentAt),
		CompletedAt:   timePtr(r.CompletedAt),
	}
}

func toDuePayment(p paymentRow, d chargeDetails) collection.DuePayment {
	return collection.DuePayment{
		Payment:        p.toPayment(),
		PayerReference: d.PayerReference,
		ClinicID:       d.ClinicID,
		ClinicAccount:  d.ClinicAccount,
		OwnerEmail:     d.OwnerEmail,
		OwnerPhone:     d.OwnerPhone,
	}
}
