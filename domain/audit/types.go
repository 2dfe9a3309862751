// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package audit

import (
	"time"

	"github.com/juju/errors"
)

// ActorKind describes who caused an audited change.
type ActorKind string

const (
	ActorSystem ActorKind = "system"
	ActorAdmin  ActorKind = "admin"
	ActorOwner  ActorKind = "owner"
	ActorClinic ActorKind = "clinic"
)

// Validate returns an error satisfying [errors.NotValid] if the kind is
// unknown.
func (k ActorKind) Validate() error {
	switch k {
	case ActorSystem, ActorAdmin, ActorOwner, ActorClinic:
		return nil
	default:
		return errors.NotValidf("actor kind %q", string(k))
	}
}

// Actor identifies who caused an audited change. The ID is optional.
type Actor struct {
	Kind ActorKind
	ID   string
}

// System is the actor for changes made by scheduled sweeps and provider
// callbacks.
var System = Actor{Kind: ActorSystem}

// Entity types recorded in the audit log.
const (
	EntityPlan           = "plan"
	EntityPayment        = "payment"
	EntityPayout         = "payout"
	EntityRiskPoolEntry  = "risk_pool_entry"
	EntitySoftCollection = "soft_collection"
)

// Entry describes a single state change to be recorded. The old and new
// values are snapshots that are serialised as JSON; either may be nil.
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	OldValue   any
	NewValue   any
	Actor      Actor
}

// Validate checks that the entry identifies what changed and who changed
// it.
func (e Entry) Validate() error {
	if e.EntityType == "" {
		return errors.NotValidf("empty entity type")
	}
	if e.EntityID == "" {
		return errors.NotValidf("empty entity id")
	}
	if e.Action == "" {
		return errors.NotValidf("empty action")
	}
	return errors.Trace(e.Actor.Kind.Validate())
}

// LogEntry is a persisted audit record. Snapshots are the raw JSON text.
type LogEntry struct {
	ID         int64
	EntityType string
	EntityID   string
	Action     string
	OldValue   string
	NewValue   string
	Actor      Actor
	CreatedAt  time.Time
}
