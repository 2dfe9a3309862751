// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package payout

import (
	"time"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/money"
)

// Status is the state of a clinic transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Validate returns an error satisfying [errors.NotValid] if the status is
// unknown.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return nil
	default:
		return errors.NotValidf("payout status %q", string(s))
	}
}

// Payout is the transfer of a clinic's share of one collected payment.
type Payout struct {
	UUID          string
	PaymentUUID   string
	PlanUUID      string
	ClinicID      string
	Amount        money.Cents
	ClinicShare   money.Cents
	TransferRef   string
	Status        Status
	FailureReason string
	CreatedAt     time.Time
}

// Request describes a collected payment to be paid out.
type Request struct {
	PaymentUUID   string
	PlanUUID      string
	ClinicID      string
	ClinicAccount string
	Amount        money.Cents
}

// Validate checks the request identifies the payment and destination.
func (r Request) Validate() error {
	if r.PaymentUUID == "" {
		return errors.NotValidf("empty payment uuid")
	}
	if r.PlanUUID == "" {
		return errors.NotValidf("empty plan uuid")
	}
	if r.ClinicID == "" || r.ClinicAccount == "" {
		return errors.NotValidf("missing clinic destination")
	}
	if !r.Amount.IsPositive() {
		return errors.NotValidf("payout amount %s", r.Amount)
	}
	return nil
}
