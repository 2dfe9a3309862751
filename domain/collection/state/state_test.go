// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain"
	"github.com/canonical/vetpay/domain/collection"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	schematesting "github.com/canonical/vetpay/domain/schema/testing"
)

type stateSuite struct {
	schematesting.LedgerSuite

	st *State
}

var _ = gc.Suite(&stateSuite{})

var now = time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.LedgerSuite.SetUpTest(c)
	s.st = NewState(s.TxnRunnerFactory())
}

func (s *stateSuite) atomic(c *gc.C, fn func(domain.AtomicContext) error) error {
	return s.st.RunAtomic(context.Background(), fn)
}

func (s *stateSuite) TestDuePayments(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", Status: "active"})
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-2", Status: "pending"})

	past := now.Add(-time.Hour)
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "deposit", PlanUUID: "plan-1", Type: "deposit", Sequence: 0, AmountCents: 26500, ScheduledAt: past})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "due", PlanUUID: "plan-1", Sequence: 1, AmountCents: 13250, ScheduledAt: past})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "retried", PlanUUID: "plan-1", Sequence: 2, AmountCents: 13250, Status: "retried", ScheduledAt: now})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "future", PlanUUID: "plan-1", Sequence: 3, AmountCents: 13250, ScheduledAt: now.Add(time.Hour)})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "failed", PlanUUID: "plan-1", Sequence: 4, AmountCents: 13250, Status: "failed", ScheduledAt: past})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "inactive", PlanUUID: "plan-2", Sequence: 1, AmountCents: 13250, ScheduledAt: past})

	due, err := s.st.DuePayments(context.Background(), now)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(due, gc.HasLen, 2)
	c.Check(due[0].Payment.UUID, gc.Equals, "due")
	c.Check(due[0].PayerReference, gc.Equals, "pm-1")
	c.Check(due[0].ClinicAccount, gc.Equals, "acct-1")
	c.Check(due[0].OwnerEmail, gc.Equals, "owner@example.com")
	c.Check(due[1].Payment.UUID, gc.Equals, "retried")
	c.Check(due[1].Payment.Status, gc.Equals, plan.PaymentRetried)
}

func (s *stateSuite) TestGetDuePaymentAndDeposit(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", Status: "pending"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "deposit", PlanUUID: "plan-1", Type: "deposit", Sequence: 0, AmountCents: 26500})

	due, err := s.st.GetDuePayment(context.Background(), "deposit")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(due.Payment.Amount, gc.Equals, money.Cents(26500))
	c.Check(due.ClinicID, gc.Equals, "clinic-1")

	deposit, err := s.st.DepositForPlan(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(deposit, jc.DeepEquals, due)

	_, err = s.st.GetDuePayment(context.Background(), "missing")
	c.Check(err, jc.ErrorIs, planerrors.PaymentNotFound)
	_, err = s.st.DepositForPlan(context.Background(), "missing")
	c.Check(err, jc.ErrorIs, planerrors.PaymentNotFound)
}

func (s *stateSuite) TestUpdatePaymentGuardsStatus(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "pay-1", PlanUUID: "plan-1", Sequence: 1, AmountCents: 13250})

	var current plan.Payment
	err := s.atomic(c, func(actx domain.AtomicContext) error {
		var err error
		current, err = s.st.GetPaymentAtomic(actx, "pay-1")
		return err
	})
	c.Assert(err, jc.ErrorIsNil)

	processing := current
	processing.Status = plan.PaymentProcessing
	processing.ExternalRef = "ch-1"
	err = s.atomic(c, func(actx domain.AtomicContext) error {
		return s.st.UpdatePayment(actx, plan.PaymentPending, processing, now)
	})
	c.Assert(err, jc.ErrorIsNil)

	err = s.atomic(c, func(actx domain.AtomicContext) error {
		return s.st.UpdatePayment(actx, plan.PaymentPending, processing, now)
	})
	c.Check(err, jc.ErrorIs, planerrors.PaymentStatusConflict)

	uuid, err := s.st.PaymentUUIDForReference(context.Background(), "ch-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(uuid, gc.Equals, "pay-1")

	_, err = s.st.PaymentUUIDForReference(context.Background(), "ch-2")
	c.Check(err, jc.ErrorIs, planerrors.PaymentNotFound)
}

func (s *stateSuite) TestUpdatePaymentDuplicateReference(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "pay-1", PlanUUID: "plan-1", Sequence: 1, AmountCents: 13250, ExternalRef: "ch-1"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "pay-2", PlanUUID: "plan-1", Sequence: 2, AmountCents: 13250})

	err := s.atomic(c, func(actx domain.AtomicContext) error {
		p, err := s.st.GetPaymentAtomic(actx, "pay-2")
		if err != nil {
			return err
		}
		p.ExternalRef = "ch-1"
		return s.st.UpdatePayment(actx, plan.PaymentPending, p, now)
	})
	c.Check(err, jc.ErrorIs, planerrors.PaymentStatusConflict)
}

func (s *stateSuite) TestPlanAggregates(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", RemainingCents: 39750})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p0", PlanUUID: "plan-1", Type: "deposit", Sequence: 0, AmountCents: 26500, Status: "succeeded"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p1", PlanUUID: "plan-1", Sequence: 1, AmountCents: 13250, Status: "written_off", ScheduledAt: now})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p2", PlanUUID: "plan-1", Sequence: 2, AmountCents: 13250, Status: "retried", ScheduledAt: now.AddDate(0, 0, 20)})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p3", PlanUUID: "plan-1", Sequence: 3, AmountCents: 13250, Status: "pending", ScheduledAt: now.AddDate(0, 0, 14)})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p4", PlanUUID: "plan-1", Sequence: 4, AmountCents: 13250, Status: "processing", ScheduledAt: now.AddDate(0, 0, 28)})

	err := s.atomic(c, func(actx domain.AtomicContext) error {
		unsettled, err := s.st.CountUnsettled(actx, "plan-1")
		c.Assert(err, jc.ErrorIsNil)
		c.Check(unsettled, gc.Equals, 4)

		next, err := s.st.NextDueAt(actx, "plan-1")
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(next, gc.NotNil)
		c.Check(*next, gc.Equals, now.AddDate(0, 0, 14))

		unpaid, err := s.st.UnpaidBalance(actx, "plan-1")
		c.Assert(err, jc.ErrorIsNil)
		c.Check(unpaid, gc.Equals, money.Cents(3*13250))

		open, err := s.st.OpenPayments(actx, "plan-1")
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(open, gc.HasLen, 2)
		c.Check(open[0].UUID, gc.Equals, "p2")
		c.Check(open[1].UUID, gc.Equals, "p3")
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *stateSuite) TestNextDueAtNone(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p0", PlanUUID: "plan-1", Type: "deposit", Sequence: 0, AmountCents: 26500, Status: "succeeded"})

	err := s.atomic(c, func(actx domain.AtomicContext) error {
		next, err := s.st.NextDueAt(actx, "plan-1")
		c.Assert(err, jc.ErrorIsNil)
		c.Check(next, gc.IsNil)
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *stateSuite) TestUpdatePlanGuardsStatus(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", RemainingCents: 13250})

	var current collection.PlanState
	err := s.atomic(c, func(actx domain.AtomicContext) error {
		var err error
		current, err = s.st.GetPlanAtomic(actx, "plan-1")
		return err
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(current.Status, gc.Equals, plan.StatusActive)
	c.Check(current.Remaining, gc.Equals, money.Cents(13250))

	completed := current
	completed.Status = plan.StatusCompleted
	completed.Remaining = 0
	completed.CompletedAt = &now
	err = s.atomic(c, func(actx domain.AtomicContext) error {
		return s.st.UpdatePlan(actx, plan.StatusActive, completed, now)
	})
	c.Assert(err, jc.ErrorIsNil)

	err = s.atomic(c, func(actx domain.AtomicContext) error {
		return s.st.UpdatePlan(actx, plan.StatusActive, completed, now)
	})
	c.Check(err, jc.ErrorIs, planerrors.PlanStatusConflict)

	err = s.atomic(c, func(actx domain.AtomicContext) error {
		_, err := s.st.GetPlanAtomic(actx, "missing")
		return err
	})
	c.Check(err, jc.ErrorIs, planerrors.PlanNotFound)
}

func (s *stateSuite) TestPlansNeedingDefault(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1"})
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-2"})
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-3", Status: "defaulted"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "a1", PlanUUID: "plan-1", Sequence: 1, AmountCents: 100, Status: "written_off"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "a2", PlanUUID: "plan-1", Sequence: 2, AmountCents: 100, Status: "written_off"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "b1", PlanUUID: "plan-2", Sequence: 1, AmountCents: 100, Status: "failed"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "c1", PlanUUID: "plan-3", Sequence: 1, AmountCents: 100, Status: "written_off"})

	uuids, err := s.st.PlansNeedingDefault(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(uuids, jc.DeepEquals, []string{"plan-1"})
}
