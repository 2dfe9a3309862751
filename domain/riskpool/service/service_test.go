// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/audit"
	auditservice "github.com/canonical/vetpay/domain/audit/service"
	auditstate "github.com/canonical/vetpay/domain/audit/state"
	"github.com/canonical/vetpay/domain/riskpool"
	"github.com/canonical/vetpay/domain/riskpool/state"
	schematesting "github.com/canonical/vetpay/domain/schema/testing"
	loggertesting "github.com/canonical/vetpay/internal/logger/testing"
)

type serviceSuite struct {
	schematesting.LedgerSuite

	audit *auditservice.Service
	svc   *Service
}

var _ = gc.Suite(&serviceSuite{})

func (s *serviceSuite) SetUpTest(c *gc.C) {
	s.LedgerSuite.SetUpTest(c)

	clk := testclock.NewClock(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))
	logger := loggertesting.NewCheckLogger(c)
	s.audit = auditservice.NewService(auditstate.NewState(s.TxnRunnerFactory()), clk, logger)
	s.svc = NewService(state.NewState(s.TxnRunnerFactory()), s.audit, clk, logger)
}

func (s *serviceSuite) TestRecordRejectsNonPositive(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1"})
	for _, amount := range []money.Cents{0, -5} {
		_, err := s.svc.RecordContribution(context.Background(), "plan-1", amount, audit.System)
		c.Check(err, jc.ErrorIs, errors.NotValid)
		_, err = s.svc.RecordClaim(context.Background(), "plan-1", amount, audit.System)
		c.Check(err, jc.ErrorIs, errors.NotValid)
		_, err = s.svc.RecordRecovery(context.Background(), "plan-1", amount, audit.System)
		c.Check(err, jc.ErrorIs, errors.NotValid)
	}
	c.Check(s.CountRows(c, "risk_pool_entry", ""), gc.Equals, 0)
}

func (s *serviceSuite) TestRecordRejectsEmptyPlan(c *gc.C) {
	_, err := s.svc.RecordContribution(context.Background(), "", 100, audit.System)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *serviceSuite) TestRecordIsAudited(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1"})
	entry, err := s.svc.RecordClaim(context.Background(), "plan-1", 40000, audit.System)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(entry.Kind, gc.Equals, riskpool.KindClaim)
	c.Check(entry.Amount, gc.Equals, money.Cents(40000))

	trail, err := s.audit.EntriesForEntity(context.Background(), audit.EntityRiskPoolEntry, entry.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(trail, gc.HasLen, 1)
	c.Check(trail[0].Action, gc.Equals, "claim_recorded")
	c.Check(trail[0].NewValue, gc.Equals, `{"amount_cents":40000,"kind":"claim","plan_uuid":"plan-1"}`)
}

func (s *serviceSuite) TestBalanceIndependentOfOrder(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1"})

	type op func() error
	contribution := func(a money.Cents) op {
		return func() error {
			_, err := s.svc.RecordContribution(context.Background(), "plan-1", a, audit.System)
			return err
		}
	}
	claim := func(a money.Cents) op {
		return func() error {
			_, err := s.svc.RecordClaim(context.Background(), "plan-1", a, audit.System)
			return err
		}
	}
	recovery := func(a money.Cents) op {
		return func() error {
			_, err := s.svc.RecordRecovery(context.Background(), "plan-1", a, audit.System)
			return err
		}
	}

	ops := []op{claim(40000), contribution(1060), recovery(300), contribution(2000), claim(500)}
	for _, o := range ops {
		c.Assert(o(), jc.ErrorIsNil)
	}
	balance, err := s.svc.Balance(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(balance, gc.Equals, money.Cents(1060+300+2000-40000-500))
}

func (s *serviceSuite) TestHealth(c *gc.C) {
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", Status: "active", RemainingCents: 40000})
	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-2", Status: "active", RemainingCents: 40000})

	_, err := s.svc.RecordContribution(context.Background(), "plan-1", 20000, audit.System)
	c.Assert(err, jc.ErrorIsNil)

	health, err := s.svc.Health(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(health.Balance, gc.Equals, money.Cents(20000))
	c.Check(health.Exposure, gc.Equals, money.Cents(80000))
	c.Check(health.ActivePlans, gc.Equals, 2)
	c.Check(health.CoverageRatio, gc.Equals, 0.25)
	c.Check(health.Covered(), jc.IsFalse)
}

func (s *serviceSuite) TestHealthNoExposure(c *gc.C) {
	health, err := s.svc.Health(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(health.Exposure, gc.Equals, money.Cents(0))
	c.Check(health.CoverageRatio, gc.Equals, 0.0)
	c.Check(health.Covered(), jc.IsTrue)
}
