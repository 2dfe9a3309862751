// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/collection"
	"github.com/canonical/vetpay/domain/notification"
	"github.com/canonical/vetpay/domain/payout"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/domain/riskpool"
	"github.com/canonical/vetpay/domain/softcollection"
)

// State describes retrieval and persistence methods for collection.
type State interface {
	domain.AtomicStateBase

	// DuePayments returns the installments ready to be charged at now.
	DuePayments(context.Context, time.Time) ([]collection.DuePayment, error)

	// GetDuePayment returns a payment with its charge details.
	GetDuePayment(context.Context, string) (collection.DuePayment, error)

	// DepositForPlan returns the deposit of a plan with its charge
	// details.
	DepositForPlan(context.Context, string) (collection.DuePayment, error)

	// PaymentUUIDForReference returns the payment charged under a
	// provider reference.
	PaymentUUIDForReference(context.Context, string) (string, error)

	// GetPaymentAtomic returns a payment within the given transaction.
	GetPaymentAtomic(domain.AtomicContext, string) (plan.Payment, error)

	// UpdatePayment writes a payment provided it still has the given
	// status.
	UpdatePayment(domain.AtomicContext, plan.PaymentStatus, plan.Payment, time.Time) error

	// GetPlanAtomic returns the collection view of a plan within the
	// given transaction.
	GetPlanAtomic(domain.AtomicContext, string) (collection.PlanState, error)

	// UpdatePlan writes a plan provided it still has the given status.
	UpdatePlan(domain.AtomicContext, plan.Status, collection.PlanState, time.Time) error

	// CountUnsettled returns the number of a plan's payments that have not
	// succeeded.
	CountUnsettled(domain.AtomicContext, string) (int, error)

	// NextDueAt returns when the plan's next uncollected payment is due.
	NextDueAt(domain.AtomicContext, string) (*time.Time, error)

	// UnpaidBalance returns the amount a plan's owner still owes.
	UnpaidBalance(domain.AtomicContext, string) (money.Cents, error)

	// OpenPayments returns a plan's pending, failed and retried payments.
	OpenPayments(domain.AtomicContext, string) ([]plan.Payment, error)

	// PlansNeedingDefault returns the active plans with a written off
	// payment.
	PlansNeedingDefault(context.Context) ([]string, error)
}

// ChargeExecutor debits owners through the payment provider.
type ChargeExecutor interface {
	// Charge asks the provider to collect the request amount. A returned
	// error means the charge was declined or could not be submitted.
	Charge(context.Context, collection.ChargeRequest) (collection.ChargeResult, error)
}

// Notifier delivers notifications on a best-effort basis.
type Notifier interface {
	Notify(context.Context, notification.Message) bool
}

// PayoutDisburser pays clinics their share of collected payments.
type PayoutDisburser interface {
	Disburse(context.Context, payout.Request) (payout.Payout, error)
}

// SoftCollection starts recovery for defaulted plans.
type SoftCollection interface {
	Initiate(context.Context, string) (softcollection.Record, error)
}

// RiskPool records guarantee fund entries inside a transaction.
type RiskPool interface {
	RecordAtomic(domain.AtomicContext, riskpool.EntryKind, string, money.Cents, audit.Actor) (riskpool.Entry, error)
}

// AuditRecorder records audit entries inside a transaction.
type AuditRecorder interface {
	RecordAtomic(domain.AtomicContext, audit.Entry)
}

// Config holds the parameters of the collection engine.
type Config struct {
	// MaxRetries is the number of times a failed payment is retried
	// before it is written off.
	MaxRetries int

	// RetryMinDays is the least number of days between a failure and
	// its retry.
	RetryMinDays int

	// ChargeTimeout bounds each call to the charge executor.
	ChargeTimeout time.Duration

	// Concurrency is the number of payments charged at once in a batch.
	Concurrency int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.NotValidf("max retries %d", c.MaxRetries)
	}
	if c.RetryMinDays < 1 {
		return errors.NotValidf("retry minimum days %d", c.RetryMinDays)
	}
	if c.ChargeTimeout <= 0 {
		return errors.NotValidf("charge timeout %v", c.ChargeTimeout)
	}
	if c.Concurrency < 1 {
		return errors.NotValidf("concurrency %d", c.Concurrency)
	}
	return nil
}

// Collaborators groups the services the collection engine drives.
type Collaborators struct {
	Executor       ChargeExecutor
	Notifier       Notifier
	Payouts        PayoutDisburser
	SoftCollection SoftCollection
	RiskPool       RiskPool
	Audit          AuditRecorder
}

// Validate checks every collaborator is set.
func (c Collaborators) Validate() error {
	if c.Executor == nil {
		return errors.NotValidf("nil charge executor")
	}
	if c.Notifier == nil {
		return errors.NotValidf("nil notifier")
	}
	if c.Payouts == nil {
		return errors.NotValidf("nil payout disburser")
	}
	if c.SoftCollection == nil {
		return errors.NotValidf("nil soft collection")
	}
	if c.RiskPool == nil {
		return errors.NotValidf("nil risk pool")
	}
	if c.Audit == nil {
		return errors.NotValidf("nil audit recorder")
	}
	return nil
}

// Service collects deposits and installments, handles provider
// confirmations, schedules retries and escalates plans to default.
type Service struct {
	st             State
	executor       ChargeExecutor
	notifier       Notifier
	payouts        PayoutDisburser
	softCollection SoftCollection
	riskPool       RiskPool
	audit          AuditRecorder
	config         Config
	clock          clock.Clock
	logger         logger.Logger
}

// NewService returns a new collection Service.
func NewService(st State, collaborators Collaborators, config Config, clock clock.Clock, logger logger.Logger) (*Service, error) {
	if err := collaborators.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Service{
		st:             st,
		executor:       collaborators.Executor,
		notifier:       collaborators.Notifier,
		payouts:        collaborators.Payouts,
		softCollection: collaborators.SoftCollection,
		riskPool:       collaborators.RiskPool,
		audit:          collaborators.Audit,
		config:         config,
		clock:          clock,
		logger:         logger,
	}, nil
}

// DuePayments returns the pending and retried installments of active plans
// whose scheduled time has passed.
func (s *Service) DuePayments(ctx context.Context) ([]collection.DuePayment, error) {
	due, err := s.st.DuePayments(ctx, s.clock.Now())
	return due, errors.Trace(err)
}

// ExecuteBatch charges the given payments concurrently. Every payment is
// attempted regardless of how the others fare.
func (s *Service) ExecuteBatch(ctx context.Context, due []collection.DuePayment) collection.BatchResult {
	result := collection.BatchResult{Due: len(due)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.config.Concurrency)
	for _, d := range due {
		d := d
		g.Go(func() error {
			outcome, err := s.ExecutePayment(ctx, d)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Errorf("collecting payment %q: %v", d.Payment.UUID, err)
				result.Errored++
				return nil
			}
			switch outcome {
			case collection.OutcomeSucceeded:
				result.Succeeded++
			case collection.OutcomeProcessing:
				result.Processing++
			case collection.OutcomeFailed:
				result.Failed++
			case collection.OutcomeSkipped:
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Infof("collection batch: %d due, %d succeeded, %d processing, %d failed, %d skipped, %d errored",
		result.Due, result.Succeeded, result.Processing, result.Failed, result.Skipped, result.Errored)
	return result
}

// CollectDeposit charges the deposit of a pending plan.
func (s *Service) CollectDeposit(ctx context.Context, planUUID string) (collection.Outcome, error) {
	due, err := s.st.DepositForPlan(ctx, planUUID)
	if err != nil {
		return "", errors.Trace(err)
	}
	outcome, err := s.ExecutePayment(ctx, due)
	return outcome, errors.Trace(err)
}

// ExecutePayment claims a payment and charges it. Declines are recorded on
// the payment and are not returned as errors.
func (s *Service) ExecutePayment(ctx context.Context, due collection.DuePayment) (collection.Outcome, error) {
	claimed, err := s.claim(ctx, due.Payment.UUID)
	if errors.Is(err, planerrors.PaymentStatusConflict) || errors.Is(err, planerrors.PlanStatusConflict) {
		s.logger.Debugf("skipping payment %q: %v", due.Payment.UUID, err)
		return collection.OutcomeSkipped, nil
	} else if err != nil {
		return "", errors.Trace(err)
	}

	req := collection.ChargeRequest{
		PaymentUUID:    claimed.UUID,
		PlanUUID:       claimed.PlanUUID,
		Amount:         claimed.Amount,
		PayerReference: due.PayerReference,
		IdempotencyKey: collection.IdempotencyKey(claimed.UUID, claimed.RetryCount),
	}
	chargeCtx, cancel := context.WithTimeout(ctx, s.config.ChargeTimeout)
	res, chargeErr := s.executor.Charge(chargeCtx, req)
	cancel()
	if chargeErr == nil {
		chargeErr = res.Status.Validate()
	}

	if chargeErr != nil {
		s.logger.Infof("charge of %s for payment %q failed: %v", claimed.Amount, claimed.UUID, chargeErr)
		if err := s.handleFailure(ctx, due, chargeErr.Error()); err != nil {
			return "", errors.Trace(err)
		}
		return collection.OutcomeFailed, nil
	}

	switch res.Status {
	case collection.ChargeSucceeded:
		if err := s.ConfirmSucceeded(ctx, claimed.UUID, res.Reference); err != nil {
			return "", errors.Trace(err)
		}
		return collection.OutcomeSucceeded, nil
	case collection.ChargeProcessing:
		if err := s.ConfirmProcessing(ctx, claimed.UUID, res.Reference); err != nil {
			return "", errors.Trace(err)
		}
		return collection.OutcomeProcessing, nil
	default:
		return "", errors.Errorf("unexpected charge status %q", res.Status)
	}
}

// claim moves a pending or retried payment to processing, so that
// concurrent sweeps do not charge it twice.
func (s *Service) claim(ctx context.Context, paymentUUID string) (plan.Payment, error) {
	var claimed plan.Payment
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPaymentAtomic(actx, paymentUUID)
		if err != nil {
			return errors.Trace(err)
		}
		if current.Status != plan.PaymentPending && current.Status != plan.PaymentRetried {
			return errors.Annotatef(planerrors.PaymentStatusConflict, "payment is %s", current.Status)
		}

		p, err := s.st.GetPlanAtomic(actx, current.PlanUUID)
		if err != nil {
			return errors.Trace(err)
		}
		wantPlan := plan.StatusActive
		if current.Type == plan.PaymentTypeDeposit {
			wantPlan = plan.StatusPending
		}
		if p.Status != wantPlan {
			return errors.Annotatef(planerrors.PlanStatusConflict, "cannot collect %s of %s plan", current.Type, p.Status)
		}

		claimed = current
		claimed.Status = plan.PaymentProcessing
		if err := s.st.UpdatePayment(actx, current.Status, claimed, s.clock.Now()); err != nil {
			return errors.Trace(err)
		}
		s.auditPayment(actx, current, claimed, audit.System)
		return nil
	})
	return claimed, errors.Trace(err)
}

// ConfirmSucceeded records that a payment was collected. The plan is
// activated by its deposit and completed by its last installment, in the
// same transaction. Confirming a succeeded payment again does nothing.
// The following errors may be returned:
// - [planerrors.PaymentNotFound] if the payment does not exist.
// - [planerrors.PaymentStatusConflict] if the payment was written off.
func (s *Service) ConfirmSucceeded(ctx context.Context, paymentUUID, reference string) error {
	var (
		settled plan.Payment
		planned collection.PlanState
		changed bool
	)
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPaymentAtomic(actx, paymentUUID)
		if err != nil {
			return errors.Trace(err)
		}
		if current.Status == plan.PaymentSucceeded {
			return nil
		}
		if !current.Status.CanTransitionTo(plan.PaymentSucceeded) {
			return errors.Annotatef(planerrors.PaymentStatusConflict, "cannot settle %s payment", current.Status)
		}

		now := s.clock.Now().UTC()
		settled = current
		settled.Status = plan.PaymentSucceeded
		settled.FailureReason = ""
		settled.ProcessedAt = &now
		if reference != "" {
			settled.ExternalRef = reference
		}
		if err := s.st.UpdatePayment(actx, current.Status, settled, now); err != nil {
			return errors.Trace(err)
		}
		s.auditPayment(actx, current, settled, audit.System)

		planned, err = s.applySettlement(actx, settled, now)
		if err != nil {
			return errors.Trace(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "confirming payment %q succeeded", paymentUUID)
	}
	if !changed {
		s.logger.Debugf("payment %q already succeeded", paymentUUID)
		return nil
	}

	_, err = s.payouts.Disburse(ctx, payout.Request{
		PaymentUUID:   settled.UUID,
		PlanUUID:      settled.PlanUUID,
		ClinicID:      planned.ClinicID,
		ClinicAccount: planned.ClinicAccount,
		Amount:        settled.Amount,
	})
	if err != nil {
		s.logger.Errorf("paying out payment %q: %v", settled.UUID, err)
	}
	return nil
}

// applySettlement updates the plan of a payment that has just succeeded.
func (s *Service) applySettlement(actx domain.AtomicContext, settled plan.Payment, now time.Time) (collection.PlanState, error) {
	current, err := s.st.GetPlanAtomic(actx, settled.PlanUUID)
	if err != nil {
		return collection.PlanState{}, errors.Trace(err)
	}

	next := current
	switch settled.Type {
	case plan.PaymentTypeDeposit:
		if current.Status == plan.StatusPending {
			next.Status = plan.StatusActive
			next.DepositPaidAt = &now
		}
	case plan.PaymentTypeInstallment:
		next.Remaining = current.Remaining - settled.Amount
		if next.Remaining < 0 {
			next.Remaining = 0
		}
	default:
		return collection.PlanState{}, errors.Errorf("unexpected payment type %q", settled.Type)
	}

	if next.NextPaymentAt, err = s.st.NextDueAt(actx, settled.PlanUUID); err != nil {
		return collection.PlanState{}, errors.Trace(err)
	}
	if next.Status == plan.StatusActive {
		unsettled, err := s.st.CountUnsettled(actx, settled.PlanUUID)
		if err != nil {
			return collection.PlanState{}, errors.Trace(err)
		}
		if unsettled == 0 {
			next.Status = plan.StatusCompleted
			next.CompletedAt = &now
			next.NextPaymentAt = nil
		}
	}

	if err := s.st.UpdatePlan(actx, current.Status, next, now); err != nil {
		return collection.PlanState{}, errors.Trace(err)
	}
	if next.Status != current.Status {
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPlan,
			EntityID:   current.UUID,
			Action:     "status_change",
			OldValue:   map[string]any{"status": current.Status},
			NewValue:   map[string]any{"status": next.Status, "remaining_cents": next.Remaining},
			Actor:      audit.System,
		})
		s.logger.Infof("plan %q is now %s", current.UUID, next.Status)
	}
	return next, nil
}

// ConfirmProcessing records that the provider accepted a charge and will
// confirm its outcome later. Stale confirmations for settled payments are
// ignored.
// An error satisfying [planerrors.PaymentNotFound] is returned if the
// payment does not exist.
func (s *Service) ConfirmProcessing(ctx context.Context, paymentUUID, reference string) error {
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPaymentAtomic(actx, paymentUUID)
		if err != nil {
			return errors.Trace(err)
		}

		switch current.Status {
		case plan.PaymentProcessing:
			if reference == "" || reference == current.ExternalRef {
				return nil
			}
		case plan.PaymentPending, plan.PaymentRetried:
		case plan.PaymentSucceeded, plan.PaymentFailed, plan.PaymentWrittenOff:
			s.logger.Debugf("ignoring processing confirmation for %s payment %q", current.Status, paymentUUID)
			return nil
		default:
			return errors.Errorf("unexpected payment status %q", current.Status)
		}

		updated := current
		updated.Status = plan.PaymentProcessing
		if reference != "" {
			updated.ExternalRef = reference
		}
		if err := s.st.UpdatePayment(actx, current.Status, updated, s.clock.Now()); err != nil {
			return errors.Trace(err)
		}
		s.auditPayment(actx, current, updated, audit.System)
		return nil
	})
	return errors.Annotatef(err, "confirming payment %q processing", paymentUUID)
}

// ConfirmFailed records that the provider could not collect a payment,
// notifies the owner and schedules a retry or writes the payment off.
// Failures on plans that have already closed are written off without
// notice. Confirming a failure that has already been handled does nothing.
// The following errors may be returned:
// - [planerrors.PaymentNotFound] if the payment does not exist.
// - [planerrors.PaymentStatusConflict] if the payment succeeded.
func (s *Service) ConfirmFailed(ctx context.Context, paymentUUID, reason string) error {
	due, err := s.st.GetDuePayment(ctx, paymentUUID)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.handleFailure(ctx, due, reason))
}

// handleFailure records a failed attempt. A payment whose plan has already
// closed cannot be collected again, so it is written off at once and, for a
// defaulted plan, claimed from the guarantee fund in the same transaction.
func (s *Service) handleFailure(ctx context.Context, due collection.DuePayment, reason string) error {
	var (
		failed     plan.Payment
		changed    bool
		planClosed bool
	)
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPaymentAtomic(actx, due.Payment.UUID)
		if err != nil {
			return errors.Trace(err)
		}

		switch current.Status {
		case plan.PaymentPending, plan.PaymentProcessing:
		case plan.PaymentFailed, plan.PaymentRetried, plan.PaymentWrittenOff:
			return nil
		case plan.PaymentSucceeded:
			return errors.Annotatef(planerrors.PaymentStatusConflict, "cannot fail %s payment", current.Status)
		default:
			return errors.Errorf("unexpected payment status %q", current.Status)
		}

		now := s.clock.Now().UTC()
		failed = current
		failed.Status = plan.PaymentFailed
		failed.FailureReason = reason
		failed.ProcessedAt = &now
		if err := s.st.UpdatePayment(actx, current.Status, failed, now); err != nil {
			return errors.Trace(err)
		}
		s.auditPayment(actx, current, failed, audit.System)
		changed = true

		owner, err := s.st.GetPlanAtomic(actx, current.PlanUUID)
		if err != nil {
			return errors.Trace(err)
		}
		switch owner.Status {
		case plan.StatusPending, plan.StatusActive:
			return nil
		case plan.StatusDefaulted, plan.StatusCancelled, plan.StatusCompleted:
		default:
			return errors.Errorf("unexpected plan status %q", owner.Status)
		}

		writtenOff := failed
		writtenOff.Status = plan.PaymentWrittenOff
		if err := s.st.UpdatePayment(actx, failed.Status, writtenOff, now); err != nil {
			return errors.Trace(err)
		}
		s.auditPayment(actx, failed, writtenOff, audit.System)
		if owner.Status == plan.StatusDefaulted {
			if _, err := s.riskPool.RecordAtomic(actx, riskpool.KindClaim, owner.UUID, current.Amount, audit.System); err != nil {
				return errors.Trace(err)
			}
		}
		planClosed = true
		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "recording failure of payment %q", due.Payment.UUID)
	}
	if !changed {
		s.logger.Debugf("failure of payment %q already recorded", due.Payment.UUID)
		return nil
	}
	if planClosed {
		s.logger.Infof("payment %q failed after its plan closed, written off", due.Payment.UUID)
		return nil
	}

	s.notifyFailure(ctx, due, failed)

	retried, err := s.RetryPayment(ctx, failed.UUID)
	if err != nil {
		return errors.Trace(err)
	}
	if !retried {
		return errors.Trace(s.writeOff(ctx, failed.UUID))
	}
	return nil
}

// FailureUrgency returns the urgency of the notification sent when a
// payment that has been retried retryCount times fails.
func FailureUrgency(retryCount int) int {
	return min(retryCount+1, 3)
}

func (s *Service) notifyFailure(ctx context.Context, due collection.DuePayment, failed plan.Payment) {
	data := map[string]string{
		"plan_uuid":    failed.PlanUUID,
		"payment_uuid": failed.UUID,
		"amount":       failed.Amount.String(),
		"attempt":      strconv.Itoa(failed.RetryCount + 1),
		"reason":       failed.FailureReason,
	}
	urgency := FailureUrgency(failed.RetryCount)
	for _, msg := range []notification.Message{{
		Channel:   notification.ChannelEmail,
		Recipient: due.OwnerEmail,
		Template:  notification.TemplatePaymentFailed,
		Urgency:   urgency,
		Data:      data,
	}, {
		Channel:   notification.ChannelSMS,
		Recipient: due.OwnerPhone,
		Template:  notification.TemplatePaymentFailed,
		Urgency:   urgency,
		Data:      data,
	}} {
		if msg.Recipient == "" {
			continue
		}
		if !s.notifier.Notify(ctx, msg) {
			s.logger.Infof("%s failure notification for payment %q not delivered", msg.Channel, failed.UUID)
		}
	}
}

// RetryPayment schedules a failed payment to be charged again on the next
// likely payday at least the configured number of days away. It returns
// false without changing anything if the payment is not failed or has
// exhausted its retries.
// An error satisfying [planerrors.PaymentNotFound] is returned if the
// payment does not exist.
func (s *Service) RetryPayment(ctx context.Context, paymentUUID string) (bool, error) {
	var retried bool
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPaymentAtomic(actx, paymentUUID)
		if err != nil {
			return errors.Trace(err)
		}
		if current.Status != plan.PaymentFailed || current.RetryCount >= s.config.MaxRetries {
			return nil
		}

		now := s.clock.Now().UTC()
		scheduled, err := plan.NextLikelyPaydayAfterDays(now, s.config.RetryMinDays)
		if err != nil {
			return errors.Trace(err)
		}

		updated := current
		updated.Status = plan.PaymentRetried
		updated.RetryCount = current.RetryCount + 1
		updated.ScheduledAt = scheduled
		updated.FailureReason = ""
		if err := s.st.UpdatePayment(actx, current.Status, updated, now); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPayment,
			EntityID:   current.UUID,
			Action:     "retry_scheduled",
			OldValue: map[string]any{
				"status":       current.Status,
				"retry_count":  current.RetryCount,
				"scheduled_at": current.ScheduledAt.Format(time.RFC3339),
			},
			NewValue: map[string]any{
				"status":       updated.Status,
				"retry_count":  updated.RetryCount,
				"scheduled_at": updated.ScheduledAt.Format(time.RFC3339),
			},
			Actor: audit.System,
		})
		retried = true
		return nil
	})
	if err != nil {
		return false, errors.Annotatef(err, "retrying payment %q", paymentUUID)
	}
	return retried, nil
}

// writeOff marks a failed payment whose retries are exhausted as written
// off. The plan is escalated to default by a separate pass.
func (s *Service) writeOff(ctx context.Context, paymentUUID string) error {
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPaymentAtomic(actx, paymentUUID)
		if err != nil {
			return errors.Trace(err)
		}
		if current.Status != plan.PaymentFailed {
			return nil
		}

		updated := current
		updated.Status = plan.PaymentWrittenOff
		if err := s.st.UpdatePayment(actx, current.Status, updated, s.clock.Now()); err != nil {
			return errors.Trace(err)
		}
		s.auditPayment(actx, current, updated, audit.System)
		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "writing off payment %q", paymentUUID)
	}
	s.logger.Infof("payment %q written off after %d retries", paymentUUID, s.config.MaxRetries)
	return nil
}

// PlansNeedingDefault returns the active plans with at least one written
// off payment.
func (s *Service) PlansNeedingDefault(ctx context.Context) ([]string, error) {
	uuids, err := s.st.PlansNeedingDefault(ctx)
	return uuids, errors.Trace(err)
}

// EscalateDefault moves an active plan to defaulted. In one transaction it
// claims the unpaid balance from the guarantee fund and writes off the
// plan's open payments. Soft collection is then started for the plan. It
// returns false if the plan was already defaulted.
// The following errors may be returned:
// - [planerrors.PlanNotFound] if the plan does not exist.
// - [planerrors.PlanStatusConflict] if the plan is not active.
func (s *Service) EscalateDefault(ctx context.Context, planUUID string) (bool, error) {
	var escalated bool
	err := s.st.RunAtomic(ctx, func(actx domain.AtomicContext) error {
		current, err := s.st.GetPlanAtomic(actx, planUUID)
		if err != nil {
			return errors.Trace(err)
		}
		switch current.Status {
		case plan.StatusDefaulted:
			return nil
		case plan.StatusActive:
		case plan.StatusPending, plan.StatusCompleted, plan.StatusCancelled:
			return errors.Annotatef(planerrors.PlanStatusConflict, "cannot default %s plan", current.Status)
		default:
			return errors.Errorf("unexpected plan status %q", current.Status)
		}

		unpaid, err := s.st.UnpaidBalance(actx, planUUID)
		if err != nil {
			return errors.Trace(err)
		}
		open, err := s.st.OpenPayments(actx, planUUID)
		if err != nil {
			return errors.Trace(err)
		}

		now := s.clock.Now().UTC()
		next := current
		next.Status = plan.StatusDefaulted
		next.NextPaymentAt = nil
		if err := s.st.UpdatePlan(actx, current.Status, next, now); err != nil {
			return errors.Trace(err)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPlan,
			EntityID:   planUUID,
			Action:     "status_change",
			OldValue:   map[string]any{"status": current.Status},
			NewValue:   map[string]any{"status": next.Status, "unpaid_cents": unpaid},
			Actor:      audit.System,
		})

		if unpaid.IsPositive() {
			if _, err := s.riskPool.RecordAtomic(actx, riskpool.KindClaim, planUUID, unpaid, audit.System); err != nil {
				return errors.Trace(err)
			}
		}

		writtenOff := make([]string, 0, len(open))
		for _, p := range open {
			updated := p
			updated.Status = plan.PaymentWrittenOff
			if err := s.st.UpdatePayment(actx, p.Status, updated, now); err != nil {
				return errors.Trace(err)
			}
			writtenOff = append(writtenOff, p.UUID)
		}
		s.audit.RecordAtomic(actx, audit.Entry{
			EntityType: audit.EntityPlan,
			EntityID:   planUUID,
			Action:     "payments_written_off",
			NewValue:   map[string]any{"payments": writtenOff},
			Actor:      audit.System,
		})
		escalated = true
		return nil
	})
	if err != nil {
		return false, errors.Annotatef(err, "escalating plan %q to default", planUUID)
	}
	if !escalated {
		return false, nil
	}

	s.logger.Warningf("plan %q defaulted", planUUID)
	if _, err := s.softCollection.Initiate(ctx, planUUID); err != nil {
		s.logger.Errorf("starting soft collection for plan %q: %v", planUUID, err)
	}
	return true, nil
}

// PaymentUUIDForReference returns the payment charged under a provider
// reference.
func (s *Service) PaymentUUIDForReference(ctx context.Context, reference string) (string, error) {
	uuid, err := s.st.PaymentUUIDForReference(ctx, reference)
	return uuid, errors.Trace(err)
}

func (s *Service) auditPayment(actx domain.AtomicContext, from, to plan.Payment, actor audit.Actor) {
	s.audit.RecordAtomic(actx, audit.Entry{
		EntityType: audit.EntityPayment,
		EntityID:   from.UUID,
		Action:     "status_change",
		OldValue:   paymentSnapshot(from),
		NewValue:   paymentSnapshot(to),
		Actor:      actor,
	})
}

func paymentSnapshot(p plan.Payment) map[string]any {
	snap := map[string]any{
		"status":      p.Status,
		"retry_count": p.RetryCount,
	}
	if p.ExternalRef != "" {
		snap["external_ref"] = p.ExternalRef
	}
	if p.FailureReason != "" {
		snap["failure_reason"] = p.FailureReason
	}
	return snap
}
