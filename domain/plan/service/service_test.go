// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/shopspring/decimal"
	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/audit"
	auditservice "github.com/canonical/vetpay/domain/audit/service"
	auditstate "github.com/canonical/vetpay/domain/audit/state"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/domain/plan/state"
	"github.com/canonical/vetpay/domain/riskpool"
	riskpoolservice "github.com/canonical/vetpay/domain/riskpool/service"
	riskpoolstate "github.com/canonical/vetpay/domain/riskpool/state"
	schematesting "github.com/canonical/vetpay/domain/schema/testing"
	loggertesting "github.com/canonical/vetpay/internal/logger/testing"
)

type serviceSuite struct {
	schematesting.LedgerSuite

	clock    *testclock.Clock
	audit    *auditservice.Service
	riskPool *riskpoolservice.Service
	svc      *Service
}

var _ = gc.Suite(&serviceSuite{})

var enrolledAt = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

func (s *serviceSuite) SetUpTest(c *gc.C) {
	s.LedgerSuite.SetUpTest(c)
	s.clock = testclock.NewClock(enrolledAt)
	logger := loggertesting.NewCheckLogger(c)
	s.audit = auditservice.NewService(auditstate.NewState(s.TxnRunnerFactory()), s.clock, logger)
	s.riskPool = riskpoolservice.NewService(riskpoolstate.NewState(s.TxnRunnerFactory()), s.audit, s.clock, logger)

	var err error
	s.svc, err = NewService(state.NewState(s.TxnRunnerFactory()), s.riskPool, s.audit, Config{
		MinimumBill:      plan.DefaultMinimumBill,
		ContributionRate: decimal.RequireFromString("0.01"),
	}, s.clock, logger)
	c.Assert(err, jc.ErrorIsNil)
}

func enrollArgs(bill money.Cents) plan.EnrollArgs {
	return plan.EnrollArgs{
		Owner: plan.Owner{
			ID:             "owner-1",
			Email:          "owner@example.com",
			Phone:          "+15555550100",
			PayerReference: "pm-1",
		},
		Clinic: plan.Clinic{ID: "clinic-1", Account: "acct-1"},
		Bill:   bill,
	}
}

func (s *serviceSuite) TestConfigValidate(c *gc.C) {
	c.Check(Config{ContributionRate: decimal.NewFromInt(0)}.Validate(), jc.ErrorIs, errors.NotValid)
	c.Check(Config{MinimumBill: 1, ContributionRate: decimal.NewFromInt(2)}.Validate(), jc.ErrorIs, errors.NotValid)
	c.Check(Config{MinimumBill: 1, ContributionRate: decimal.NewFromInt(0)}.Validate(), jc.ErrorIsNil)
}

func (s *serviceSuite) TestEnroll(c *gc.C) {
	p, err := s.svc.Enroll(context.Background(), enrollArgs(100000), audit.Actor{Kind: audit.ActorClinic, ID: "clinic-1"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Status, gc.Equals, plan.StatusPending)
	c.Check(p.TotalWithFee, gc.Equals, money.Cents(106000))
	c.Check(p.Deposit, gc.Equals, money.Cents(26500))
	c.Check(p.Remaining, gc.Equals, money.Cents(79500))

	stored, err := s.svc.GetPlan(context.Background(), p.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored, jc.DeepEquals, p)

	payments, err := s.svc.PaymentsForPlan(context.Background(), p.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(payments, gc.HasLen, 7)
	var sum money.Cents
	for i, payment := range payments {
		c.Check(payment.Sequence, gc.Equals, i)
		c.Check(payment.Status, gc.Equals, plan.PaymentPending)
		c.Check(payment.ScheduledAt, gc.Equals, enrolledAt.AddDate(0, 0, 14*i))
		sum += payment.Amount
	}
	c.Check(payments[0].Type, gc.Equals, plan.PaymentTypeDeposit)
	c.Check(sum, gc.Equals, p.TotalWithFee)

	entries, err := s.riskPool.EntriesForPlan(context.Background(), p.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(entries, gc.HasLen, 1)
	c.Check(entries[0].Kind, gc.Equals, riskpool.KindContribution)
	c.Check(entries[0].Amount, gc.Equals, money.Cents(1060))

	trail, err := s.audit.EntriesForEntity(context.Background(), audit.EntityPlan, p.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(trail, gc.HasLen, 1)
	c.Check(trail[0].Action, gc.Equals, "plan_created")
	c.Check(trail[0].Actor, gc.Equals, audit.Actor{Kind: audit.ActorClinic, ID: "clinic-1"})
}

func (s *serviceSuite) TestEnrollBelowMinimum(c *gc.C) {
	for _, bill := range []money.Cents{0, -100, 49999} {
		_, err := s.svc.Enroll(context.Background(), enrollArgs(bill), audit.System)
		c.Check(err, jc.ErrorIs, errors.NotValid)
	}
	c.Check(s.CountRows(c, "plan", ""), gc.Equals, 0)
	c.Check(s.CountRows(c, "risk_pool_entry", ""), gc.Equals, 0)
}

func (s *serviceSuite) TestEnrollInvalidArgs(c *gc.C) {
	args := enrollArgs(100000)
	args.Clinic.Account = ""
	_, err := s.svc.Enroll(context.Background(), args, audit.System)
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = s.svc.Enroll(context.Background(), enrollArgs(100000), audit.Actor{Kind: "robot"})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *serviceSuite) TestCancel(c *gc.C) {
	p, err := s.svc.Enroll(context.Background(), enrollArgs(100000), audit.System)
	c.Assert(err, jc.ErrorIsNil)

	admin := audit.Actor{Kind: audit.ActorAdmin, ID: "admin-1"}
	c.Assert(s.svc.Cancel(context.Background(), p.UUID, admin), jc.ErrorIsNil)
	c.Assert(s.svc.Cancel(context.Background(), p.UUID, admin), jc.ErrorIsNil)

	stored, err := s.svc.GetPlan(context.Background(), p.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored.Status, gc.Equals, plan.StatusCancelled)

	trail, err := s.audit.EntriesForEntity(context.Background(), audit.EntityPlan, p.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(trail, gc.HasLen, 2)
	c.Check(trail[1].Action, gc.Equals, "status_change")
	c.Check(trail[1].OldValue, gc.Equals, `{"status":"pending"}`)
	c.Check(trail[1].NewValue, gc.Equals, `{"status":"cancelled"}`)
}

func (s *serviceSuite) TestCancelTerminalPlan(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", Status: "completed"})
	err := s.svc.Cancel(context.Background(), "plan-1", audit.System)
	c.Check(err, jc.ErrorIs, planerrors.PlanStatusConflict)

	err = s.svc.Cancel(context.Background(), "missing", audit.System)
	c.Check(err, jc.ErrorIs, planerrors.PlanNotFound)
}

func (s *serviceSuite) TestPaymentsForMissingPlan(c *gc.C) {
	_, err := s.svc.PaymentsForPlan(context.Background(), "missing")
	c.Check(err, jc.ErrorIs, planerrors.PlanNotFound)
}

func (s *serviceSuite) TestPlansWithStatus(c *gc.C) {
	_, err := s.svc.PlansWithStatus(context.Background(), "bogus")
	c.Check(err, jc.ErrorIs, errors.NotValid)

	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", Status: "active"})
	plans, err := s.svc.PlansWithStatus(context.Background(), plan.StatusActive)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(plans, gc.HasLen, 1)
	c.Check(plans[0].UUID, gc.Equals, "plan-1")
}
