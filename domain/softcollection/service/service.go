// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/notification"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/domain/riskpool"
	"github.com/canonical/vetpay/domain/softcollection"
	softcollectionerrors "github.com/canonical/vetpay/domain/softcollection/errors"
)

// State describes retrieval and persistence methods for soft collection.
type State interface {
	domain.AtomicStateBase

	// InsertRecord creates the soft collection record of a plan.
	InsertRecord(domain.AtomicContext, softcollection.Record) error

	// GetRecord returns the soft collection record of a plan.
	GetRecord(context.Context, string) (softcollection.Record, error)

	// GetRecordAtomic returns the soft collection record of a plan within
	// the given transaction.
	GetRecordAtomic(domain.AtomicContext, string) (softcollection.Record, error)

	// UpdateRecord writes a record provided it is still at the given stage.
	UpdateRecord(domain.AtomicContext, softcollection.Stage, softcollection.Record) error

	// PendingEscalations returns the open records due for escalation.
	PendingEscalations(context.Context, time.Time) ([]softcollection.Record, error)

	// GetContact returns the owner contact details and status of a plan.
	GetContact(context.Context, string) (softcollection.Contact, error)

	// OutstandingBalance returns the uncollected amount of a plan.
	OutstandingBalance(context.Context, string) (money.Cents, error)

	// DefaultedPlansWithoutRecord returns the defaulted plans for which
	// soft collection has not been started.
	DefaultedPlansWithoutRecord(context.Context) ([]string, error)
}

// Notifier delivers notifications on a best-effort basis.
type Notifier interface {
	Notify(context.Context, notification.Message) bool
}

// AuditRecorder records audit entries inside a transaction.
type AuditRecorder interface {
	RecordAtomic(domain.AtomicContext, audit.Entry)
}

// RiskPool records guarantee fund entries inside a transaction.
type RiskPool interface {
	RecordAtomic(domain.AtomicContext, riskpool.EntryKind, string, money.Cents, audit.Actor) (riskpool.Entry, error)
}

// Service runs the staged recovery workflow for defaulted plans.
type Service struct {
	st       State
	notifier Notifier
	audit    AuditRecorder
	riskPool RiskPool
	clock    clock.Clock
	logger   logger.Logger
}

// NewService returns a new soft collection Service.
func NewService(st State, notifier Notifier, audit AuditRecorder, riskPool RiskPool, clock clock.Clock, logger logger.Logger) *Service {
	return &Service{
		st:       st,
		notifier: notifier,
		audit:    audit,
		riskPool: riskPool,
		clock:    clock,
		logger:   logger,
	}
}

// Initiate starts soft collection for a defaulted plan. If the plan already
// has a record it is returned unchanged and no notification is sent.
// The following errors may be returned:
// - [planerrors.PlanNotFound] if the plan does not exist.
// - [planerrors.PlanStatusConflict] if the plan is not defaulted.
func (s *Service) Initiate(ctx context.Context, planUUID string) (softcollection.Record, error) {
	existing, err := s.st.GetRecord(ctx, planUUID)
	if err == nil {
		return existing, nil
	} else if !errors.Is(err, softcollectionerrors.SoftCollectionNotFound) {
		return softcollection.Record{}, errors.Trace(err)
	}

	contact, err := s.st.GetContact(ctx, planUUID)
	if err != nil {
		return softcollection.Record{}, errors.Trace(err)
	}
	if plan.Status(contact.PlanStatus) != plan.StatusDefaulted {
		return softcollection.Record{}, errors.Annotatef(planerrors.PlanStatusConflict,
			"cannot start soft collection for %s plan %q", contact.PlanStatus, planUUID)
	}

	outstanding, err := s.st.OutstandingBalance(ctx, planUUID)
	if err != nil {
		return softcollection.Record{}, errors.Trace(err)
	}

	now := s.clock.Now().UTC()
	rec := softcollection.Record{
		UUID:        uuid.NewString(),
		PlanUUID:    planUUID,
		Stage:       softcollection.StageDay1Reminder,
		Outstanding: outstanding,
		StartedAt:   now,
	}
	if delay, ok := rec.Stage.EscalationDelay(); ok {
		next := now.Add(delay)
		rec.NextEscalationAt = &next
	}

	err = s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		if err := s.st.InsertRecord(actx, rec); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntitySoftCollection,
			EntityID:   rec.UUID,
			Action:     "soft_collection_initiated",
			NewValue:   snapshot(rec),
			Actor:      audit.System,
		})
		return nil
	})
	if errors.Is(err, softcollectionerrors.SoftCollectionAlreadyExists) {
		// Lost a race with a concurrent initiation, which owns the
		// notifications.
		existing, err := s.st.GetRecord(ctx, planUUID)
		return existing, errors.Trace(err)
	} else if err != nil {
		return softcollection.Record{}, errors.Annotatef(err, "initiating soft collection for plan %q", planUUID)
	}

	s.notifyStage(ctx, contact, rec)
	return rec, nil
}

// Escalate advances the plan's case by one stage and sends the stage's
// notification. Escalating a case at its final reminder completes it
// without recording a recovery. The following errors may be returned:
// - [softcollectionerrors.SoftCollectionNotFound] if there is no case.
// - [softcollectionerrors.SoftCollectionClosed] if the case is closed.
func (s *Service) Escalate(ctx context.Context, planUUID string) (softcollection.Record, error) {
	updated, _, err := s.escalate(ctx, planUUID, false)
	return updated, err
}

// EscalateIfDue escalates the plan's case only if its next escalation is
// due, and reports whether it did. Sweeps use it so that a case listed by
// two overlapping sweeps advances once.
// The errors returned are those of [Service.Escalate].
func (s *Service) EscalateIfDue(ctx context.Context, planUUID string) (softcollection.Record, bool, error) {
	return s.escalate(ctx, planUUID, true)
}

func (s *Service) escalate(ctx context.Context, planUUID string, dueOnly bool) (softcollection.Record, bool, error) {
	var (
		updated   softcollection.Record
		escalated bool
	)
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetRecordAtomic(actx, planUUID)
		if err != nil {
			return errors.Trace(err)
		}
		now := s.clock.Now().UTC()
		if dueOnly && !current.Stage.IsTerminal() &&
			(current.NextEscalationAt == nil || current.NextEscalationAt.After(now)) {
			updated = current
			return nil
		}
		if current.Stage.IsTerminal() {
			return errors.Annotatef(softcollectionerrors.SoftCollectionClosed, "case is %s", current.Stage)
		}
		next, ok := current.Stage.Next()
		if !ok {
			return errors.Errorf("no stage follows %q", current.Stage)
		}

		updated = current
		updated.Stage = next
		updated.LastEscalatedAt = &now
		updated.NextEscalationAt = nil
		if delay, ok := next.EscalationDelay(); ok {
			at := now.Add(delay)
			updated.NextEscalationAt = &at
		}
		action := "soft_collection_escalated"
		if next.IsTerminal() {
			updated.ClosedAt = &now
			action = "soft_collection_completed"
		}

		if err := s.st.UpdateRecord(actx, current.Stage, updated); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntitySoftCollection,
			EntityID:   current.UUID,
			Action:     action,
			OldValue:   snapshot(current),
			NewValue:   snapshot(updated),
			Actor:      audit.System,
		})
		escalated = true
		return nil
	})
	if err != nil {
		return softcollection.Record{}, false, errors.Annotatef(err, "escalating soft collection for plan %q", planUUID)
	}
	if !escalated {
		return updated, false, nil
	}

	contact, err := s.st.GetContact(ctx, planUUID)
	if err != nil {
		s.logger.Warningf("reading contact for plan %q, skipping %s notification: %v", planUUID, updated.Stage, err)
		return updated, true, nil
	}
	s.notifyStage(ctx, contact, updated)
	return updated, true, nil
}

// Cancel closes the plan's case administratively. Cancelling a cancelled
// case does nothing. The following errors may be returned:
// - [softcollectionerrors.SoftCollectionNotFound] if there is no case.
// - [softcollectionerrors.SoftCollectionClosed] if the case is completed.
func (s *Service) Cancel(ctx context.Context, planUUID, reason string, actor audit.Actor) error {
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetRecordAtomic(actx, planUUID)
		if err != nil {
			return errors.Trace(err)
		}
		switch current.Stage {
		case softcollection.StageCancelled:
			return nil
		case softcollection.StageCompleted:
			return errors.Annotatef(softcollectionerrors.SoftCollectionClosed, "case is %s", current.Stage)
		case softcollection.StageDay1Reminder, softcollection.StageDay7Followup, softcollection.StageDay14Final:
		default:
			return errors.Errorf("unexpected soft collection stage %q", current.Stage)
		}

		now := s.clock.Now().UTC()
		updated := current
		updated.Stage = softcollection.StageCancelled
		updated.CancelReason = reason
		updated.NextEscalationAt = nil
		updated.ClosedAt = &now

		if err := s.st.UpdateRecord(actx, current.Stage, updated); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntitySoftCollection,
			EntityID:   current.UUID,
			Action:     "soft_collection_cancelled",
			OldValue:   snapshot(current),
			NewValue:   snapshot(updated),
			Actor:      actor,
		})
		return nil
	})
	return errors.Annotatef(err, "cancelling soft collection for plan %q", planUUID)
}

// Complete closes the plan's case as recovered. A positive recovered
// amount is returned to the guarantee fund in the same transaction.
// The following errors may be returned:
// - [errors.NotValid] if the recovered amount is negative.
// - [softcollectionerrors.SoftCollectionNotFound] if there is no case.
// - [softcollectionerrors.SoftCollectionClosed] if the case is closed.
func (s *Service) Complete(ctx context.Context, planUUID string, recovered money.Cents, actor audit.Actor) (softcollection.Record, error) {
	if recovered < 0 {
		return softcollection.Record{}, errors.NotValidf("recovered amount %s", recovered)
	}

	var updated softcollection.Record
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetRecordAtomic(actx, planUUID)
		if err != nil {
			return errors.Trace(err)
		}
		if current.Stage.IsTerminal() {
			return errors.Annotatef(softcollectionerrors.SoftCollectionClosed, "case is %s", current.Stage)
		}

		now := s.clock.Now().UTC()
		updated = current
		updated.Stage = softcollection.StageCompleted
		updated.Recovered = recovered
		updated.NextEscalationAt = nil
		updated.ClosedAt = &now

		if err := s.st.UpdateRecord(actx, current.Stage, updated); err != nil {
			return errors.Trace(err)
		}
		if recovered.IsPositive() {
			if _, err := s.riskPool.RecordAtomic(actx, riskpool.KindRecovery, planUUID, recovered, actor); err != nil {
				return errors.Trace(err)
			}
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntitySoftCollection,
			EntityID:   current.UUID,
			Action:     "soft_collection_completed",
			OldValue:   snapshot(current),
			NewValue:   snapshot(updated),
			Actor:      actor,
		})
		return nil
	})
	if err != nil {
		return softcollection.Record{}, errors.Annotatef(err, "completing soft collection for plan %q", planUUID)
	}
	return updated, nil
}

// PendingEscalations returns the open cases whose next escalation is due.
func (s *Service) PendingEscalations(ctx context.Context) ([]softcollection.Record, error) {
	records, err := s.st.PendingEscalations(ctx, s.clock.Now())
	return records, errors.Trace(err)
}

// DefaultedPlansWithoutRecord returns the defaulted plans for which soft
// collection has not been started.
func (s *Service) DefaultedPlansWithoutRecord(ctx context.Context) ([]string, error) {
	uuids, err := s.st.DefaultedPlansWithoutRecord(ctx)
	return uuids, errors.Trace(err)
}

// Get returns the soft collection record of a plan.
func (s *Service) Get(ctx context.Context, planUUID string) (softcollection.Record, error) {
	rec, err := s.st.GetRecord(ctx, planUUID)
	return rec, errors.Trace(err)
}

func (s *Service) notifyStage(ctx context.Context, contact softcollection.Contact, rec softcollection.Record) {
	template, ok := rec.Stage.Template()
	if !ok {
		return
	}
	data := map[string]string{
		"plan_uuid":   rec.PlanUUID,
		"outstanding": rec.Outstanding.String(),
		"stage":       string(rec.Stage),
	}
	for _, msg := range []notification.Message{{
		Channel:   notification.ChannelEmail,
		Recipient: contact.Email,
		Template:  template,
		Data:      data,
	}, {
		Channel:   notification.ChannelSMS,
		Recipient: contact.Phone,
		Template:  template,
		Data:      data,
	}} {
		if msg.Recipient == "" {
			continue
		}
		if !s.notifier.Notify(ctx, msg) {
			s.logger.Infof("%s %s notification for plan %q not delivered", msg.Channel, rec.Stage, rec.PlanUUID)
		}
	}
}

func snapshot(rec softcollection.Record) map[string]any {
	snap := map[string]any{
		"stage":             rec.Stage,
		"outstanding_cents": rec.Outstanding,
	}
	if rec.NextEscalationAt != nil {
		snap["next_escalation_at"] = rec.NextEscalationAt.Format(time.RFC3339)
	}
	if rec.Recovered > 0 {
		snap["recovered_cents"] = rec.Recovered
	}
	if rec.CancelReason != "" {
		snap["cancel_reason"] = rec.CancelReason
	}
	return snap
}
