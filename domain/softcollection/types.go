// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package softcollection

import (
	"time"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/notification"
)

// Stage is the position of a defaulted plan in the recovery workflow.
type Stage string

const (
	// StageDay1Reminder is the initial friendly reminder.
	StageDay1Reminder Stage = "day_1_reminder"
	// StageDay7Followup is the second reminder.
	StageDay7Followup Stage = "day_7_followup"
	// StageDay14Final is the last actionable stage.
	StageDay14Final Stage = "day_14_final"
	// StageCompleted is a case closed by recovering the balance.
	StageCompleted Stage = "completed"
	// StageCancelled is a case closed administratively.
	StageCancelled Stage = "cancelled"
)

// Validate returns an error satisfying [errors.NotValid] if the stage is
// unknown.
func (s Stage) Validate() error {
	switch s {
	case StageDay1Reminder, StageDay7Followup, StageDay14Final, StageCompleted, StageCancelled:
		return nil
	default:
		return errors.NotValidf("soft collection stage %q", string(s))
	}
}

// IsTerminal reports whether the case is closed.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageCancelled:
		return true
	case StageDay1Reminder, StageDay7Followup, StageDay14Final:
		return false
	default:
		return false
	}
}

// Next returns the stage following s. Escalating past the final reminder
// closes the case. It returns false for closed cases.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageDay1Reminder:
		return StageDay7Followup, true
	case StageDay7Followup:
		return StageDay14Final, true
	case StageDay14Final:
		return StageCompleted, true
	case StageCompleted, StageCancelled:
		return "", false
	default:
		return "", false
	}
}

// EscalationDelay returns how long after entering s the next escalation is
// due. It returns false when no further escalation is scheduled.
func (s Stage) EscalationDelay() (time.Duration, bool) {
	const day = 24 * time.Hour
	switch s {
	case StageDay1Reminder:
		return 6 * day, true
	case StageDay7Followup:
		return 7 * day, true
	case StageDay14Final, StageCompleted, StageCancelled:
		return 0, false
	default:
		return 0, false
	}
}

// Template returns the notification template sent on entering s.
func (s Stage) Template() (string, bool) {
	switch s {
	case StageDay1Reminder:
		return notification.TemplateSoftCollectionDay1, true
	case StageDay7Followup:
		return notification.TemplateSoftCollectionDay7, true
	case StageDay14Final:
		return notification.TemplateSoftCollectionDay14, true
	case StageCompleted, StageCancelled:
		return "", false
	default:
		return "", false
	}
}

// Record is the soft collection case of a defaulted plan.
type Record struct {
	UUID             string
	PlanUUID         string
	Stage            Stage
	Outstanding      money.Cents
	Recovered        money.Cents
	CancelReason     string
	StartedAt        time.Time
	LastEscalatedAt  *time.Time
	NextEscalationAt *time.Time
	ClosedAt         *time.Time
}

// Contact holds the owner details of the plan under collection.
type Contact struct {
	PlanStatus string
	Email      string
	Phone      string
}
