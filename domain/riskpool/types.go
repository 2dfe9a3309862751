// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package riskpool

import (
	"time"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/money"
)

// EntryKind tags a guarantee fund ledger entry.
type EntryKind string

const (
	// KindContribution is money paid into the fund at enrollment.
	KindContribution EntryKind = "contribution"
	// KindClaim is money paid out of the fund when a plan defaults.
	KindClaim EntryKind = "claim"
	// KindRecovery is money returned to the fund by soft collection.
	KindRecovery EntryKind = "recovery"
)

// Validate returns an error satisfying [errors.NotValid] if the kind is
// unknown.
func (k EntryKind) Validate() error {
	switch k {
	case KindContribution, KindClaim, KindRecovery:
		return nil
	default:
		return errors.NotValidf("risk pool entry kind %q", string(k))
	}
}

// Signed returns the effect of an entry of this kind on the fund balance.
func (k EntryKind) Signed(amount money.Cents) money.Cents {
	switch k {
	case KindContribution, KindRecovery:
		return amount
	case KindClaim:
		return -amount
	default:
		return 0
	}
}

// Entry is an append-only guarantee fund ledger row. Amount is always
// positive; its direction is given by Kind.
type Entry struct {
	UUID      string
	PlanUUID  string
	Kind      EntryKind
	Amount    money.Cents
	CreatedAt time.Time
}

// Totals are the per-kind sums over the whole ledger.
type Totals struct {
	Contributions money.Cents
	Claims        money.Cents
	Recoveries    money.Cents
}

// Balance derives the fund balance from the totals.
func (t Totals) Balance() money.Cents {
	return KindContribution.Signed(t.Contributions) +
		KindRecovery.Signed(t.Recoveries) +
		KindClaim.Signed(t.Claims)
}

// Health is the solvency of the fund against current exposure.
type Health struct {
	Totals

	Balance money.Cents

	// Exposure is the sum of remaining balances across active plans.
	Exposure money.Cents

	// ActivePlans is the number of plans contributing to the exposure.
	ActivePlans int

	// CoverageRatio is Balance/Exposure. It is only meaningful when
	// Exposure is positive, see Covered.
	CoverageRatio float64
}

// Covered reports whether the fund could absorb every active plan
// defaulting at once.
func (h Health) Covered() bool {
	if h.Exposure <= 0 {
		return h.Balance >= 0
	}
	return h.CoverageRatio >= 1
}
