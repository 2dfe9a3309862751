// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package plan

import (
	"time"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/money"
)

// Status is the lifecycle state of a plan.
type Status string

const (
	// StatusPending is a plan whose deposit has not yet been collected.
	StatusPending Status = "pending"
	// StatusActive is a plan whose deposit has been collected and which has
	// outstanding installments.
	StatusActive Status = "active"
	// StatusCompleted is a plan with every payment collected.
	StatusCompleted Status = "completed"
	// StatusDefaulted is a plan that could not be collected and has been
	// claimed against the guarantee fund.
	StatusDefaulted Status = "defaulted"
	// StatusCancelled is a plan that was administratively cancelled.
	StatusCancelled Status = "cancelled"
)

// Validate returns an error satisfying [errors.NotValid] if the status is
// not one of the known plan statuses.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusDefaulted, StatusCancelled:
		return nil
	default:
		return errors.NotValidf("plan status %q", string(s))
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDefaulted, StatusCancelled:
		return true
	case StatusPending, StatusActive:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether a plan may move from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCompleted || next == StatusDefaulted || next == StatusCancelled
	case StatusCompleted, StatusDefaulted, StatusCancelled:
		return false
	default:
		return false
	}
}

// PaymentStatus is the lifecycle state of a single payment.
type PaymentStatus string

const (
	// PaymentPending is a payment that has not been attempted.
	PaymentPending PaymentStatus = "pending"
	// PaymentProcessing is a payment that has been submitted for execution
	// and is awaiting confirmation.
	PaymentProcessing PaymentStatus = "processing"
	// PaymentSucceeded is a collected payment.
	PaymentSucceeded PaymentStatus = "succeeded"
	// PaymentFailed is a payment whose last attempt failed.
	PaymentFailed PaymentStatus = "failed"
	// PaymentRetried is a failed payment rescheduled for another attempt.
	PaymentRetried PaymentStatus = "retried"
	// PaymentWrittenOff is a payment whose retries are exhausted.
	PaymentWrittenOff PaymentStatus = "written_off"
)

// Validate returns an error satisfying [errors.NotValid] if the status is
// not one of the known payment statuses.
func (s PaymentStatus) Validate() error {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentSucceeded, PaymentFailed, PaymentRetried, PaymentWrittenOff:
		return nil
	default:
		return errors.NotValidf("payment status %q", string(s))
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSucceeded, PaymentWrittenOff:
		return true
	case PaymentPending, PaymentProcessing, PaymentFailed, PaymentRetried:
		return false
	default:
		return false
	}
}

// IsUnpaid reports whether the amount of a payment in this status is still
// owed by the owner.
func (s PaymentStatus) IsUnpaid() bool {
	switch s {
	case PaymentPending, PaymentFailed, PaymentRetried, PaymentWrittenOff:
		return true
	case PaymentProcessing, PaymentSucceeded:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether a payment may move from s to next.
// Confirmations from the payment provider may arrive for payments that were
// never marked as processing, so pending and retried payments can succeed
// directly.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending, PaymentRetried:
		return next == PaymentProcessing || next == PaymentSucceeded ||
			next == PaymentFailed || next == PaymentWrittenOff
	case PaymentProcessing:
		return next == PaymentSucceeded || next == PaymentFailed
	case PaymentFailed:
		return next == PaymentRetried || next == PaymentWrittenOff
	case PaymentSucceeded, PaymentWrittenOff:
		return false
	default:
		return false
	}
}

// PaymentType distinguishes the deposit from the installments.
type PaymentType string

const (
	// PaymentTypeDeposit is the upfront payment, sequence 0.
	PaymentTypeDeposit PaymentType = "deposit"
	// PaymentTypeInstallment is one of the biweekly payments.
	PaymentTypeInstallment PaymentType = "installment"
)

// Validate returns an error satisfying [errors.NotValid] if the type is
// unknown.
func (t PaymentType) Validate() error {
	switch t {
	case PaymentTypeDeposit, PaymentTypeInstallment:
		return nil
	default:
		return errors.NotValidf("payment type %q", string(t))
	}
}

// Plan is one owner's installment agreement for a single bill.
type Plan struct {
	UUID           string
	OwnerID        string
	OwnerEmail     string
	OwnerPhone     string
	PayerReference string
	ClinicID       string
	ClinicAccount  string

	Bill             money.Cents
	Fee              money.Cents
	TotalWithFee     money.Cents
	Deposit          money.Cents
	Remaining        money.Cents
	Installment      money.Cents
	InstallmentCount int

	Status        Status
	DepositPaidAt *time.Time
	NextPaymentAt *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// Payment is a deposit or installment belonging to a plan.
type Payment struct {
	UUID          string
	PlanUUID      string
	Type          PaymentType
	Sequence      int
	Amount        money.Cents
	Status        PaymentStatus
	ExternalRef   string
	FailureReason string
	RetryCount    int
	ScheduledAt   time.Time
	ProcessedAt   *time.Time
}

// Owner identifies who is paying for a plan and how to reach them.
type Owner struct {
	ID             string
	Email          string
	Phone          string
	PayerReference string
}

// Clinic identifies who is paid out for a plan.
type Clinic struct {
	ID      string
	Account string
}

// EnrollArgs holds the inputs to plan enrollment.
type EnrollArgs struct {
	Owner  Owner
	Clinic Clinic
	Bill   money.Cents
}

// Validate checks the enrollment arguments, other than the bill amount
// which is checked by the schedule calculator.
func (a EnrollArgs) Validate() error {
	if a.Owner.ID == "" {
		return errors.NotValidf("empty owner id")
	}
	if a.Owner.PayerReference == "" {
		return errors.NotValidf("empty payer reference")
	}
	if a.Clinic.ID == "" {
		return errors.NotValidf("empty clinic id")
	}
	if a.Clinic.Account == "" {
		return errors.NotValidf("empty clinic account")
	}
	return nil
}
