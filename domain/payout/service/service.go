// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/payout"
	payouterrors "github.com/canonical/vetpay/domain/payout/errors"
)

// State describes retrieval and persistence methods for payouts.
type State interface {
	domain.AtomicStateBase

	// InsertPayout records a new payout.
	InsertPayout(domain.AtomicContext, payout.Payout) error

	// GetPayoutForPayment returns the payout of a payment.
	GetPayoutForPayment(context.Context, string) (payout.Payout, error)

	// UpdatePayoutStatus moves a payout between statuses.
	UpdatePayoutStatus(ctx domain.AtomicContext, uuid string, from, to payout.Status, transferRef, failureReason string, now time.Time) error

	// PayoutsForClinic returns every payout of a clinic.
	PayoutsForClinic(context.Context, string) ([]payout.Payout, error)
}

// Disburser moves money to a clinic.
type Disburser interface {
	// Transfer sends amount to the destination account, returning the
	// transfer reference. The idempotency key is stable for a payout.
	Transfer(ctx context.Context, amount money.Cents, destination, idempotencyKey string) (string, error)
}

// AuditRecorder records audit entries inside a transaction.
type AuditRecorder interface {
	RecordAtomic(domain.AtomicContext, audit.Entry)
}

// Config holds the parameters of the payout service.
type Config struct {
	// ClinicShareRate is the fraction of each payment paid to the clinic.
	ClinicShareRate decimal.Decimal

	// TransferTimeout bounds each call to the disburser.
	TransferTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.ClinicShareRate.IsPositive() || c.ClinicShareRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.NotValidf("clinic share rate %s", c.ClinicShareRate)
	}
	if c.TransferTimeout <= 0 {
		return errors.NotValidf("transfer timeout %v", c.TransferTimeout)
	}
	return nil
}

// Service pays clinics their share of collected payments.
type Service struct {
	st        State
	disburser Disburser
	audit     AuditRecorder
	config    Config
	clock     clock.Clock
	logger    logger.Logger
}

// NewService returns a new payout Service.
func NewService(st State, disburser Disburser, audit AuditRecorder, config Config, clock clock.Clock, logger logger.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Service{
		st:        st,
		disburser: disburser,
		audit:     audit,
		config:    config,
		clock:     clock,
		logger:    logger,
	}, nil
}

// ClinicShare returns the clinic's share of a payment amount.
func (s *Service) ClinicShare(amount money.Cents) money.Cents {
	return money.ApplyRate(amount, s.config.ClinicShareRate)
}

// Disburse records a payout for a collected payment and transfers the
// clinic's share. A payment is only ever paid out once: repeated calls
// return the existing payout without transferring again. Transfer
// failures are recorded on the payout and do not return an error.
func (s *Service) Disburse(ctx context.Context, req payout.Request) (payout.Payout, error) {
	if err := req.Validate(); err != nil {
		return payout.Payout{}, errors.Trace(err)
	}
	share := s.ClinicShare(req.Amount)
	if !share.IsPositive() {
		return payout.Payout{}, errors.NotValidf("clinic share of %s", req.Amount)
	}

	p := payout.Payout{
		UUID:        uuid.NewString(),
		PaymentUUID: req.PaymentUUID,
		PlanUUID:    req.PlanUUID,
		ClinicID:    req.ClinicID,
		Amount:      req.Amount,
		ClinicShare: share,
		Status:      payout.StatusPending,
		CreatedAt:   s.clock.Now().UTC(),
	}
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		if err := s.st.InsertPayout(actx, p); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPayout,
			EntityID:   p.UUID,
			Action:     "payout_created",
			NewValue:   payoutSnapshot(p),
			Actor:      audit.System,
		})
		return nil
	})
	if errors.Is(err, payouterrors.PayoutAlreadyExists) {
		s.logger.Debugf("payment %q already paid out", req.PaymentUUID)
		existing, err := s.st.GetPayoutForPayment(ctx, req.PaymentUUID)
		return existing, errors.Trace(err)
	} else if err != nil {
		return payout.Payout{}, errors.Annotatef(err, "recording payout for payment %q", req.PaymentUUID)
	}

	transferCtx, cancel := context.WithTimeout(ctx, s.config.TransferTimeout)
	ref, transferErr := s.disburser.Transfer(transferCtx, share, req.ClinicAccount, p.UUID)
	cancel()

	next := payout.StatusSucceeded
	var reason string
	if transferErr != nil {
		next = payout.StatusFailed
		reason = transferErr.Error()
		s.logger.Warningf("transfer of %s to clinic %q for payment %q failed: %v", share, req.ClinicID, req.PaymentUUID, transferErr)
	}

	err = s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		if err := s.st.UpdatePayoutStatus(actx, p.UUID, payout.StatusPending, next, ref, reason, s.clock.Now()); err != nil {
			return errors.Trace(err)
		}
		updated := p
		updated.Status = next
		updated.TransferRef = ref
		updated.FailureReason = reason
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPayout,
			EntityID:   p.UUID,
			Action:     "status_change",
			OldValue:   payoutSnapshot(p),
			NewValue:   payoutSnapshot(updated),
			Actor:      audit.System,
		})
		return nil
	})
	if err != nil {
		return payout.Payout{}, errors.Annotatef(err, "recording transfer result for payout %q", p.UUID)
	}

	p.Status = next
	p.TransferRef = ref
	p.FailureReason = reason
	return p, nil
}

// PayoutForPayment returns the payout of a payment.
func (s *Service) PayoutForPayment(ctx context.Context, paymentUUID string) (payout.Payout, error) {
	p, err := s.st.GetPayoutForPayment(ctx, paymentUUID)
	return p, errors.Trace(err)
}

// PayoutsForClinic returns every payout of a clinic.
func (s *Service) PayoutsForClinic(ctx context.Context, clinicID string) ([]payout.Payout, error) {
	payouts, err := s.st.PayoutsForClinic(ctx, clinicID)
	return payouts, errors.Trace(err)
}

func payoutSnapshot(p payout.Payout) map[string]any {
	snap := map[string]any{
		"status":             p.Status,
		"amount_cents":       p.Amount,
		"clinic_share_cents": p.ClinicShare,
	}
	if p.TransferRef != "" {
		snap["transfer_ref"] = p.TransferRef
	}
	if p.FailureReason != "" {
		snap["failure_reason"] = p.FailureReason
	}
	return snap
}
