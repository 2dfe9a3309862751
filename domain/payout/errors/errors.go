// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// PayoutNotFound describes an error that occurs when the payout being
	// operated on does not exist.
	PayoutNotFound = errors.ConstError("payout not found")

	// PayoutAlreadyExists describes an error that occurs when a payment
	// has already been paid out.
	PayoutAlreadyExists = errors.ConstError("payout already exists")

	// PayoutStatusConflict describes an error that occurs when a payout is
	// not in the status an update expects.
	PayoutStatusConflict = errors.ConstError("payout status conflict")
)
