// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"database/sql"
	"time"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/plan"
)

type planRow struct {
	UUID             string       `db:"uuid"`
	OwnerID          string       `db:"owner_id"`
	OwnerEmail       string       `db:"owner_email"`
	OwnerPhone       string       `db:"owner_phone"`
	PayerReference   string       `db:"payer_reference"`
	ClinicID         string       `db:"clinic_id"`
	ClinicAccount    string       `db:"clinic_account"`
	BillCents        int64        `db:"bill_cents"`
	FeeCents         int64        `db:"fee_cents"`
	TotalCents       int64        `db:"total_cents"`
	DepositCents     int64        `db:"deposit_cents"`
	RemainingCents   int64        `db:"remaining_cents"`
	InstallmentCents int64        `db:"installment_cents"`
	InstallmentCount int          `db:"installment_count"`
	Status           string       `db:"status"`
	DepositPaidAt    sql.NullTime `db:"deposit_paid_at"`
	NextPaymentAt    sql.NullTime `db:"next_payment_at"`
	CompletedAt      sql.NullTime `db:"completed_at"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

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

type planUUID struct {
	UUID string `db:"uuid"`
}

type paymentPlan struct {
	PlanUUID string `db:"plan_uuid"`
}

type planStatus struct {
	Status string `db:"status"`
}

type clinicRef struct {
	ClinicID string `db:"clinic_id"`
}

type statusUpdate struct {
	UUID       string    `db:"uuid"`
	FromStatus string    `db:"from_status"`
	Status     string    `db:"status"`
	UpdatedAt  time.Time `db:"updated_at"`
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

func fromPlan(p plan.Plan, now time.Time) planRow {
	return planRow{
		UUID:             p.UUID,
		OwnerID:          p.OwnerID,
		OwnerEmail:       p.OwnerEmail,
		OwnerPhone:       p.OwnerPhone,
		PayerReference:   p.PayerReference,
		ClinicID:         p.ClinicID,
		ClinicAccount:    p.ClinicAccount,
		BillCents:        int64(p.Bill),
		FeeCents:         int64(p.Fee),
		TotalCents:       int64(p.TotalWithFee),
		DepositCents:     int64(p.Deposit),
		RemainingCents:   int64(p.Remaining),
		InstallmentCents: int64(p.Installment),
		InstallmentCount: p.InstallmentCount,
		Status:           string(p.Status),
		DepositPaidAt:    nullTime(p.DepositPaidAt),
		NextPaymentAt:    nullTime(p.NextPaymentAt),
		CompletedAt:      nullTime(p.CompletedAt),
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        now.UTC(),
	}
}

func (r planRow) toPlan() plan.Plan {
	return plan.Plan{
		UUID:             r.UUID,
		OwnerID:          r.OwnerID,
		OwnerEmail:       r.OwnerEmail,
		OwnerPhone:       r.OwnerPhone,
		PayerReference:   r.PayerReference,
		ClinicID:         r.ClinicID,
		ClinicAccount:    r.ClinicAccount,
		Bill:             money.Cents(r.BillCents),
		Fee:              money.Cents(r.FeeCents),
		TotalWithFee:     money.Cents(r.TotalCents),
		Deposit:          money.Cents(r.DepositCents),
		Remaining:        money.Cents(r.RemainingCents),
		Installment:      money.Cents(r.InstallmentCents),
		InstallmentCount: r.InstallmentCount,
		Status:           plan.Status(r.Status),
		DepositPaidAt:    timePtr(r.DepositPaidAt),
		NextPaymentAt:    timePtr(r.NextPaymentAt),
		CompletedAt:      timePtr(r.CompletedAt),
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

func fromPayment(p plan.Payment, now time.Time) paymentRow {
	return paymentRow{
		UUID:          p.UUID,
		PlanUUID:      p.PlanUUID,
		Type:          string(p.Type),
		Sequence:      p.Sequence,
		AmountCents:   int64(p.Amount),
		Status:        string(p.Status),
		ExternalRef:   nullString(p.ExternalRef),
		FailureReason: nullString(p.FailureReason),
		RetryCount:    p.RetryCount,
		ScheduledAt:   p.ScheduledAt.UTC(),
		ProcessedAt:   nullTime(p.ProcessedAt),
		UpdatedAt:     now.UTC(),
	}
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
