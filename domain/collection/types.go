// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package collection

import (
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/plan"
)

// ChargeStatus is the immediate outcome reported by the payment provider
// for an accepted charge.
type ChargeStatus string

const (
	// ChargeSucceeded is a charge that settled synchronously.
	ChargeSucceeded ChargeStatus = "succeeded"
	// ChargeProcessing is a charge whose outcome arrives later through a
	// confirmation callback.
	ChargeProcessing ChargeStatus = "processing"
)

// Validate returns an error satisfying [errors.NotValid] if the status is
// unknown.
func (s ChargeStatus) Validate() error {
	switch s {
	case ChargeSucceeded, ChargeProcessing:
		return nil
	default:
		return errors.NotValidf("charge status %q", string(s))
	}
}

// ChargeRequest asks the payment provider to debit the owner.
type ChargeRequest struct {
	PaymentUUID    string      `json:"payment_uuid"`
	PlanUUID       string      `json:"plan_uuid"`
	Amount         money.Cents `json:"amount_cents"`
	PayerReference string      `json:"payer_reference"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// ChargeResult is the provider's answer to an accepted charge.
type ChargeResult struct {
	Reference string
	Status    ChargeStatus
}

// IdempotencyKey returns the key under which a payment attempt is charged.
// Each retry is a distinct attempt.
func IdempotencyKey(paymentUUID string, retryCount int) string {
	return fmt.Sprintf("%s-%d", paymentUUID, retryCount)
}

// DuePayment is a payment ready to be charged, together with the plan
// details needed to charge it and to route its proceeds.
type DuePayment struct {
	Payment        plan.Payment
	PayerReference string
	ClinicID       string
	ClinicAccount  string
	OwnerEmail     string
	OwnerPhone     string
}

// PlanState is the mutable part of a plan touched by collection.
type PlanState struct {
	UUID          string
	Status        plan.Status
	Remaining     money.Cents
	ClinicID      string
	ClinicAccount string
	OwnerEmail    string
	OwnerPhone    string
	DepositPaidAt *time.Time
	NextPaymentAt *time.Time
	CompletedAt   *time.Time
}

// Outcome is the result of attempting to collect a single payment.
type Outcome string

const (
	// OutcomeSucceeded is a payment that was collected.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeProcessing is a payment accepted by the provider and awaiting
	// confirmation.
	OutcomeProcessing Outcome = "processing"
	// OutcomeFailed is a payment the provider declined.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped is a payment that another worker had already claimed
	// or settled.
	OutcomeSkipped Outcome = "skipped"
)

// BatchResult aggregates the outcomes of a collection batch.
type BatchResult struct {
	Due        int
	Succeeded  int
	Processing int
	Failed     int
	Skipped    int
	Errored    int
}

// Processed is the number of payments the provider was asked to charge.
func (r BatchResult) Processed() int {
	return r.Succeeded + r.Processing + r.Failed
}
