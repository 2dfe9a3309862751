// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package plan

import (
	"time"

	"github.com/juju/errors"
)

// IsLikelyPayday reports whether t falls on a common payroll date: the 1st
// or 15th of the month, or a Friday.
func IsLikelyPayday(t time.Time) bool {
	day := t.Day()
	return day == 1 || day == 15 || t.Weekday() == time.Friday
}

// NextLikelyPaydayAfterDays returns the earliest likely payday strictly
// after start plus minDays. The time of day of start is preserved.
// An error satisfying [errors.NotValid] is returned if minDays is less
// than one.
func NextLikelyPaydayAfterDays(start time.Time, minDays int) (time.Time, error) {
	if minDays < 1 {
		return time.Time{}, errors.NotValidf("minimum retry gap %d days", minDays)
	}
	candidate := start.AddDate(0, 0, minDays+1)
	// A Friday occurs within any seven consecutive days.
	for !IsLikelyPayday(candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}
