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
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	schematesting "github.com/canonical/vetpay/domain/schema/testing"
)

type stateSuite struct {
	schematesting.LedgerSuite

	st *State
}

var _ = gc.Suite(&stateSuite{})

var now = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.LedgerSuite.SetUpTest(c)
	s.st = NewState(s.TxnRunnerFactory())
}

func newPlan(uuid, clinicID string) (plan.Plan, []plan.Payment) {
	p := plan.Plan{
		UUID:             uuid,
		OwnerID:          "owner-1",
		OwnerEmail:       "owner@example.com",
		PayerReference:   "pm-1",
		ClinicID:         clinicID,
		ClinicAccount:    "acct-1",
		Bill:             100000,
		Fee:              6000,
		TotalWithFee:     106000,
		Deposit:          26500,
		Remaining:        79500,
		Installment:      13250,
		InstallmentCount: 6,
		Status:           plan.StatusPending,
		NextPaymentAt:    &now,
		CreatedAt:        now,
	}
	payments := []plan.Payment{{
		UUID: uuid + "-0", PlanUUID: uuid, Type: plan.PaymentTypeDeposit, Sequence: 0,
		Amount: 26500, Status: plan.PaymentPending, ScheduledAt: now,
	}, {
		UUID: uuid + "-1", PlanUUID: uuid, Type: plan.PaymentTypeInstallment, Sequence: 1,
		Amount: 13250, Status: plan.PaymentPending, ScheduledAt: now.AddDate(0, 0, 14),
	}}
	return p, payments
}

func (s *stateSuite) insert(c *gc.C, p plan.Plan, payments []plan.Payment) error {
	return s.st.RunAtomic(context.Background(), func(actx domain.AtomicContext) error {
		return s.st.InsertPlan(actx, p, payments, now)
	})
}

func (s *stateSuite) TestInsertAndGetPlan(c *gc.C) {
	p, payments := newPlan("plan-1", "clinic-1")
	c.Assert(s.insert(c, p, payments), jc.ErrorIsNil)

	got, err := s.st.GetPlan(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, p)

	gotPayments, err := s.st.PaymentsForPlan(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gotPayments, jc.DeepEquals, payments)
}

func (s *stateSuite) TestInsertRollsBackOnDuplicateSequence(c *gc.C) {
	p, payments := newPlan("plan-1", "clinic-1")
	payments[1].Sequence = 0
	err := s.insert(c, p, payments)
	c.Assert(err, gc.NotNil)

	c.Check(s.CountRows(c, "plan", ""), gc.Equals, 0)
	c.Check(s.CountRows(c, "payment", ""), gc.Equals, 0)
}

func (s *stateSuite) TestInsertRejectsNonPositivePayment(c *gc.C) {
	p, payments := newPlan("plan-1", "clinic-1")
	payments[1].Amount = money.Cents(0)
	c.Assert(s.insert(c, p, payments), gc.NotNil)
	c.Check(s.CountRows(c, "plan", ""), gc.Equals, 0)
}

func (s *stateSuite) TestGetPlanNotFound(c *gc.C) {
	_, err := s.st.GetPlan(context.Background(), "missing")
	c.Check(err, jc.ErrorIs, planerrors.PlanNotFound)
}

func (s *stateSuite) TestPlansWithStatusAndClinic(c *gc.C) {
	p1, pay1 := newPlan("plan-1", "clinic-1")
	c.Assert(s.insert(c, p1, pay1), jc.ErrorIsNil)
	p2, pay2 := newPlan("plan-2", "clinic-2")
	p2.Status = plan.StatusActive
	c.Assert(s.insert(c, p2, pay2), jc.ErrorIsNil)

	pending, err := s.st.PlansWithStatus(context.Background(), plan.StatusPending)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(pending, gc.HasLen, 1)
	c.Check(pending[0].UUID, gc.Equals, "plan-1")

	clinic, err := s.st.PlansForClinic(context.Background(), "clinic-2")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(clinic, gc.HasLen, 1)
	c.Check(clinic[0].UUID, gc.Equals, "plan-2")
}

func (s *stateSuite) TestUpdatePlanStatusGuarded(c *gc.C) {
	p, payments := newPlan("plan-1", "clinic-1")
	c.Assert(s.insert(c, p, payments), jc.ErrorIsNil)

	update := func(from, to plan.Status) error {
		return s.st.RunAtomic(context.Background(), func(actx domain.AtomicContext) error {
			return s.st.UpdatePlanStatus(actx, "plan-1", from, to, now)
		})
	}
	c.Assert(update(plan.StatusPending, plan.StatusCancelled), jc.ErrorIsNil)
	c.Check(update(plan.StatusPending, plan.StatusCancelled), jc.ErrorIs, planerrors.PlanStatusConflict)

	got, err := s.st.GetPlan(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.Status, gc.Equals, plan.StatusCancelled)
}
