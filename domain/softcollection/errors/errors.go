// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// SoftCollectionNotFound describes an error that occurs when a plan
	// has no soft collection record.
	SoftCollectionNotFound = errors.ConstError("soft collection not found")

	// SoftCollectionAlreadyExists describes an error that occurs when a
	// second soft collection record is created for a plan.
	SoftCollectionAlreadyExists = errors.ConstError("soft collection already exists")

	// SoftCollectionClosed describes an error that occurs when a completed
	// or cancelled case is modified.
	SoftCollectionClosed = errors.ConstError("soft collection closed")

	// SoftCollectionStageConflict describes an error that occurs when a
	// record is not at the stage an update expects.
	SoftCollectionStageConflict = errors.ConstError("soft collection stage conflict")
)
