// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// PlanNotFound describes an error that occurs when the plan being
	// operated on does not exist.
	PlanNotFound = errors.ConstError("plan not found")

	// PlanStatusConflict describes an error that occurs when an operation
	// is attempted against a plan in a status that does not permit it.
	PlanStatusConflict = errors.ConstError("plan status conflict")

	// PaymentNotFound describes an error that occurs when the payment being
	// operated on does not exist.
	PaymentNotFound = errors.ConstError("payment not found")

	// PaymentStatusConflict describes an error that occurs when an
	// operation is attempted against a payment in a status that does not
	// permit it.
	PaymentStatusConflict = errors.ConstError("payment status conflict")
)
