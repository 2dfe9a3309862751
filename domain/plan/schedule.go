// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package plan

import (
	"time"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"

	"github.com/canonical/vetpay/core/money"
)

const (
	// InstallmentCount is the number of installments following the deposit.
	InstallmentCount = 6

	// InstallmentIntervalDays is the number of days between installments.
	InstallmentIntervalDays = 14

	// DefaultMinimumBill is the smallest bill that can be enrolled.
	DefaultMinimumBill money.Cents = 50000

	// MaximumBill is the largest bill that can be enrolled, $1,000,000.
	MaximumBill money.Cents = 100_000_000
)

var (
	feeRate     = decimal.RequireFromString("0.06")
	depositRate = decimal.RequireFromString("0.25")
)

// ScheduledPayment is a single dated entry of a schedule.
type ScheduledPayment struct {
	Type     PaymentType
	Sequence int
	Amount   money.Cents
	DueAt    time.Time
}

// Schedule is the breakdown of a bill into a deposit and installments.
type Schedule struct {
	Bill             money.Cents
	Fee              money.Cents
	TotalWithFee     money.Cents
	Deposit          money.Cents
	Remaining        money.Cents
	Installment      money.Cents
	InstallmentCount int
	Payments         []ScheduledPayment
}

// CalculateSchedule splits a bill into a fee, a deposit due on enrolledAt
// and InstallmentCount installments due every InstallmentIntervalDays
// thereafter. The final installment absorbs the rounding remainder so the
// deposit and installments always sum to the total with fee.
// An error satisfying [errors.NotValid] is returned if the bill is below
// the minimum or above [MaximumBill].
func CalculateSchedule(bill, minimum money.Cents, enrolledAt time.Time) (Schedule, error) {
	if minimum <= 0 {
		minimum = DefaultMinimumBill
	}
	if bill < minimum {
		return Schedule{}, errors.NotValidf("bill %s below minimum %s", bill, minimum)
	}
	if bill > MaximumBill {
		return Schedule{}, errors.NotValidf("bill %s above maximum %s", bill, MaximumBill)
	}

	fee := money.ApplyRate(bill, feeRate)
	total := bill + fee
	deposit := money.ApplyRate(total, depositRate)
	remaining := total - deposit
	installment := remaining / InstallmentCount
	last := remaining - installment*(InstallmentCount-1)

	payments := make([]ScheduledPayment, 0, InstallmentCount+1)
	payments = append(payments, ScheduledPayment{
		Type:     PaymentTypeDeposit,
		Sequence: 0,
		Amount:   deposit,
		DueAt:    enrolledAt,
	})
	for i := 1; i <= InstallmentCount; i++ {
		amount := installment
		if i == InstallmentCount {
			amount = last
		}
		payments = append(payments, ScheduledPayment{
			Type:     PaymentTypeInstallment,
			Sequence: i,
			Amount:   amount,
			DueAt:    enrolledAt.AddDate(0, 0, InstallmentIntervalDays*i),
		})
	}

	return Schedule{
		Bill:             bill,
		Fee:              fee,
		TotalWithFee:     total,
		Deposit:          deposit,
		Remaining:        remaining,
		Installment:      installment,
		InstallmentCount: InstallmentCount,
		Payments:         payments,
	}, nil
}
