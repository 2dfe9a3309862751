// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/audit"
)

// State describes retrieval and persistence methods for the audit log.
type State interface {
	domain.AtomicStateBase

	// AppendEntry inserts an audit record within the given transaction.
	AppendEntry(domain.AtomicContext, audit.LogEntry) error

	// EntriesForEntity returns the audit trail of a single entity.
	EntriesForEntity(ctx context.Context, entityType, entityID string) ([]audit.LogEntry, error)

	// EntriesSince returns every audit record created at or after the
	// given time.
	EntriesSince(context.Context, time.Time) ([]audit.LogEntry, error)
}

// Service records every state transition of the ledger. Recording never
// fails the caller: errors are logged and dropped.
type Service struct {
	st     State
	clock  clock.Clock
	logger logger.Logger
}

// NewService returns a new audit Service.
func NewService(st State, clock clock.Clock, logger logger.Logger) *Service {
	return &Service{
		st:     st,
		clock:  clock,
		logger: logger,
	}
}

// Record writes the entry in its own transaction.
func (s *Service) Record(ctx context.Context, entry audit.Entry) {
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		return s.record(actx, entry)
	})
	if err != nil {
		s.logFailure(entry, err)
	}
}

// RecordAtomic writes the entry inside the caller's transaction, so that
// it commits or rolls back with the change it describes.
func (s *Service) RecordAtomic(ctx domain.AtomicContext, entry audit.Entry) {
	if err := s.record(ctx, entry); err != nil {
		s.logFailure(entry, err)
	}
}

func (s *Service) record(ctx domain.AtomicContext, entry audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.st.AppendEntry(ctx, audit.LogEntry{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		OldValue:   s.snapshot(entry.OldValue),
		NewValue:   s.snapshot(entry.NewValue),
		Actor:      entry.Actor,
		CreatedAt:  s.clock.Now().UTC(),
	}))
}

func (s *Service) snapshot(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warningf("cannot serialise audit snapshot %T: %v", v, err)
		return ""
	}
	return string(data)
}

func (s *Service) logFailure(entry audit.Entry, err error) {
	s.logger.Errorf("recording audit entry %q for %s %q: %v", entry.Action, entry.EntityType, entry.EntityID, err)
}

// EntriesForEntity returns the audit trail of a single entity in the order
// it was recorded.
func (s *Service) EntriesForEntity(ctx context.Context, entityType, entityID string) ([]audit.LogEntry, error) {
	entries, err := s.st.EntriesForEntity(ctx, entityType, entityID)
	return entries, errors.Trace(err)
}

// EntriesSince returns every audit record created at or after since.
func (s *Service) EntriesSince(ctx context.Context, since time.Time) ([]audit.LogEntry, error) {
	entries, err := s.st.EntriesSince(ctx, since)
	return entries, errors.Trace(err)
}
