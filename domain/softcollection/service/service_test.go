// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/audit"
	auditservice "github.com/canonical/vetpay/domain/audit/service"
	auditstate "github.com/canonical/vetpay/domain/audit/state"
	"github.com/canonical/vetpay/domain/notification"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/domain/riskpool"
	riskpoolservice "github.com/canonical/vetpay/domain/riskpool/service"
	riskpoolstate "github.com/canonical/vetpay/domain/riskpool/state"
	schematesting "github.com/canonical/vetpay/domain/schema/testing"
	"github.com/canonical/vetpay/domain/softcollection"
	softcollectionerrors "github.com/canonical/vetpay/domain/softcollection/errors"
	"github.com/canonical/vetpay/domain/softcollection/state"
	loggertesting "github.com/canonical/vetpay/internal/logger/testing"
)

type serviceSuite struct {
	schematesting.LedgerSuite

	clock    *testclock.Clock
	logger   *loggertesting.CheckLogger
	audit    *auditservice.Service
	riskPool *riskpoolservice.Service
	notifier *MockNotifier
}

var _ = gc.Suite(&serviceSuite{})

var start = time.Date(2024, time.April, 2, 9, 0, 0, 0, time.UTC)

func (s *serviceSuite) SetUpTest(c *gc.C) {
	s.LedgerSuite.SetUpTest(c)
	s.clock = testclock.NewClock(start)
	s.logger = loggertesting.NewCheckLogger(c)
	s.audit = auditservice.NewService(auditstate.NewState(s.TxnRunnerFactory()), s.clock, s.logger)
	s.riskPool = riskpoolservice.NewService(riskpoolstate.NewState(s.TxnRunnerFactory()), s.audit, s.clock, s.logger)

	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-1", Status: "defaulted"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p0", PlanUUID: "plan-1", Type: "deposit", Sequence: 0, AmountCents: 26500, Status: "succeeded"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p1", PlanUUID: "plan-1", Sequence: 1, AmountCents: 20000, Status: "written_off"})
	s.SeedPayment(c, schematesting.PaymentArgs{UUID: "p2", PlanUUID: "plan-1", Sequence: 2, AmountCents: 20000, Status: "written_off"})
}

func (s *serviceSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.notifier = NewMockNotifier(ctrl)
	return ctrl
}

func (s *serviceSuite) service() *Service {
	return NewService(state.NewState(s.TxnRunnerFactory()), s.notifier, s.audit, s.riskPool, s.clock, s.logger)
}

func (s *serviceSuite) expectStageNotifications(template string) {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg notification.Message) bool {
		return msg.Channel == notification.ChannelEmail && msg.Recipient == "owner@example.com" && msg.Template == template
	})
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg notification.Message) bool {
		return msg.Channel == notification.ChannelSMS && msg.Recipient == "+15555550100" && msg.Template == template
	})
}

func (s *serviceSuite) TestInitiate(c *gc.C) {
	defer s.setupMocks(c).Finish()

	var sent []notification.Message
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg notification.Message) bool {
		sent = append(sent, msg)
		return true
	}).Times(2)

	rec, err := s.service().Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Stage, gc.Equals, softcollection.StageDay1Reminder)
	c.Check(rec.Outstanding, gc.Equals, money.Cents(40000))
	c.Assert(rec.NextEscalationAt, gc.NotNil)
	c.Check(*rec.NextEscalationAt, gc.Equals, start.Add(6*24*time.Hour))

	c.Assert(sent, gc.HasLen, 2)
	c.Check(sent[0].Channel, gc.Equals, notification.ChannelEmail)
	c.Check(sent[0].Template, gc.Equals, notification.TemplateSoftCollectionDay1)
	c.Check(sent[0].Data["outstanding"], gc.Equals, money.Cents(40000).String())
	c.Check(sent[1].Channel, gc.Equals, notification.ChannelSMS)

	trail, err := s.audit.EntriesForEntity(context.Background(), audit.EntitySoftCollection, rec.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(trail, gc.HasLen, 1)
	c.Check(trail[0].Action, gc.Equals, "soft_collection_initiated")
}

func (s *serviceSuite) TestInitiateTwiceReturnsSameRecord(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)

	first, err := s.service().Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)

	s.clock.Advance(time.Hour)
	second, err := s.service().Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, jc.DeepEquals, first)
	c.Check(s.CountRows(c, "soft_collection", ""), gc.Equals, 1)
}

func (s *serviceSuite) TestInitiateConcurrentlyNotifiesOnce(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)

	svc := s.service()
	var wg sync.WaitGroup
	results := make([]softcollection.Record, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Initiate(context.Background(), "plan-1")
		}(i)
	}
	wg.Wait()

	for i := range results {
		c.Assert(errs[i], jc.ErrorIsNil)
		c.Check(results[i].UUID, gc.Equals, results[0].UUID)
	}
	c.Check(s.CountRows(c, "soft_collection", ""), gc.Equals, 1)
}

func (s *serviceSuite) TestInitiateNotifierFailureIsLogged(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(false).Times(2)

	_, err := s.service().Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.logger.Contains("not delivered"), jc.IsTrue)
}

func (s *serviceSuite) TestInitiateRequiresDefaultedPlan(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.SeedPlan(c, schematesting.PlanArgs{UUID: "plan-2", Status: "active"})
	_, err := s.service().Initiate(context.Background(), "plan-2")
	c.Check(err, jc.ErrorIs, planerrors.PlanStatusConflict)

	_, err = s.service().Initiate(context.Background(), "missing")
	c.Check(err, jc.ErrorIs, planerrors.PlanNotFound)
	c.Check(s.CountRows(c, "soft_collection", ""), gc.Equals, 0)
}

func (s *serviceSuite) TestEscalateThroughStages(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)
	svc := s.service()
	_, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)

	s.clock.Advance(6 * 24 * time.Hour)
	s.expectStageNotifications(notification.TemplateSoftCollectionDay7)
	rec, err := svc.Escalate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Stage, gc.Equals, softcollection.StageDay7Followup)
	c.Assert(rec.LastEscalatedAt, gc.NotNil)
	c.Check(*rec.LastEscalatedAt, gc.Equals, s.clock.Now().UTC())
	c.Assert(rec.NextEscalationAt, gc.NotNil)
	c.Check(*rec.NextEscalationAt, gc.Equals, s.clock.Now().UTC().Add(7*24*time.Hour))

	s.clock.Advance(7 * 24 * time.Hour)
	s.expectStageNotifications(notification.TemplateSoftCollectionDay14)
	rec, err = svc.Escalate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Stage, gc.Equals, softcollection.StageDay14Final)
	c.Check(rec.NextEscalationAt, gc.IsNil)
	c.Check(rec.ClosedAt, gc.IsNil)

	trail, err := s.audit.EntriesForEntity(context.Background(), audit.EntitySoftCollection, rec.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(trail, gc.HasLen, 3)
}

func (s *serviceSuite) TestEscalateFinalStageCompletes(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(6)
	svc := s.service()
	_, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	for _, want := range []softcollection.Stage{softcollection.StageDay7Followup, softcollection.StageDay14Final} {
		rec, err := svc.Escalate(context.Background(), "plan-1")
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(rec.Stage, gc.Equals, want)
	}

	// No notification is sent on closing the case.
	rec, err := svc.Escalate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Stage, gc.Equals, softcollection.StageCompleted)
	c.Check(rec.Recovered, gc.Equals, money.Cents(0))
	c.Check(rec.NextEscalationAt, gc.IsNil)
	c.Assert(rec.ClosedAt, gc.NotNil)
	c.Check(*rec.ClosedAt, gc.Equals, s.clock.Now().UTC())

	stored, err := svc.Get(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored.Stage, gc.Equals, softcollection.StageCompleted)
	c.Check(s.CountRows(c, "risk_pool_entry", "kind = 'recovery'"), gc.Equals, 0)

	trail, err := s.audit.EntriesForEntity(context.Background(), audit.EntitySoftCollection, rec.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(trail[len(trail)-1].Action, gc.Equals, "soft_collection_completed")

	_, err = svc.Escalate(context.Background(), "plan-1")
	c.Check(err, jc.ErrorIs, softcollectionerrors.SoftCollectionClosed)
}

func (s *serviceSuite) TestEscalateIfDue(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)
	svc := s.service()
	_, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)

	// Not due for another day.
	s.clock.Advance(5 * 24 * time.Hour)
	rec, escalated, err := svc.EscalateIfDue(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(escalated, jc.IsFalse)
	c.Check(rec.Stage, gc.Equals, softcollection.StageDay1Reminder)

	s.clock.Advance(24 * time.Hour)
	s.expectStageNotifications(notification.TemplateSoftCollectionDay7)
	rec, escalated, err = svc.EscalateIfDue(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(escalated, jc.IsTrue)
	c.Check(rec.Stage, gc.Equals, softcollection.StageDay7Followup)

	// A second sweep holding the same pending list does not escalate again.
	rec, escalated, err = svc.EscalateIfDue(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(escalated, jc.IsFalse)
	c.Check(rec.Stage, gc.Equals, softcollection.StageDay7Followup)
}

func (s *serviceSuite) TestEscalateNotFound(c *gc.C) {
	defer s.setupMocks(c).Finish()

	_, err := s.service().Escalate(context.Background(), "plan-1")
	c.Check(err, jc.ErrorIs, softcollectionerrors.SoftCollectionNotFound)
}

func (s *serviceSuite) TestEscalateClosedCase(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)
	svc := s.service()
	_, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)

	err = svc.Cancel(context.Background(), "plan-1", "paid at the clinic", audit.Actor{Kind: audit.ActorAdmin, ID: "admin-1"})
	c.Assert(err, jc.ErrorIsNil)

	_, err = svc.Escalate(context.Background(), "plan-1")
	c.Check(err, jc.ErrorIs, softcollectionerrors.SoftCollectionClosed)

	rec, err := svc.Get(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Stage, gc.Equals, softcollection.StageCancelled)
	c.Check(rec.CancelReason, gc.Equals, "paid at the clinic")
	c.Check(rec.NextEscalationAt, gc.IsNil)
	c.Check(rec.ClosedAt, gc.NotNil)
}

func (s *serviceSuite) TestCancelIsIdempotent(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)
	svc := s.service()
	rec, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(svc.Cancel(context.Background(), "plan-1", "first", audit.System), jc.ErrorIsNil)
	c.Assert(svc.Cancel(context.Background(), "plan-1", "second", audit.System), jc.ErrorIsNil)

	got, err := svc.Get(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.CancelReason, gc.Equals, "first")

	trail, err := s.audit.EntriesForEntity(context.Background(), audit.EntitySoftCollection, rec.UUID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(trail, gc.HasLen, 2)
}

func (s *serviceSuite) TestCancelCompletedCase(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)
	svc := s.service()
	_, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	_, err = svc.Complete(context.Background(), "plan-1", 0, audit.System)
	c.Assert(err, jc.ErrorIsNil)

	err = svc.Cancel(context.Background(), "plan-1", "too late", audit.System)
	c.Check(err, jc.ErrorIs, softcollectionerrors.SoftCollectionClosed)
}

func (s *serviceSuite) TestCompleteRecordsRecovery(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)
	svc := s.service()
	_, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)

	rec, err := svc.Complete(context.Background(), "plan-1", 15000, audit.Actor{Kind: audit.ActorAdmin, ID: "admin-1"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Stage, gc.Equals, softcollection.StageCompleted)
	c.Check(rec.Recovered, gc.Equals, money.Cents(15000))

	entries, err := s.riskPool.EntriesForPlan(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(entries, gc.HasLen, 1)
	c.Check(entries[0].Kind, gc.Equals, riskpool.KindRecovery)
	c.Check(entries[0].Amount, gc.Equals, money.Cents(15000))

	// Written-off payments stay written off.
	c.Check(s.CountRows(c, "payment", "status = 'written_off'"), gc.Equals, 2)

	_, err = svc.Complete(context.Background(), "plan-1", 100, audit.System)
	c.Check(err, jc.ErrorIs, softcollectionerrors.SoftCollectionClosed)
	c.Check(s.CountRows(c, "risk_pool_entry", ""), gc.Equals, 1)
}

func (s *serviceSuite) TestCompleteRejectsNegative(c *gc.C) {
	defer s.setupMocks(c).Finish()

	_, err := s.service().Complete(context.Background(), "plan-1", -1, audit.System)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *serviceSuite) TestPendingEscalations(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(true).Times(2)
	svc := s.service()
	_, err := svc.Initiate(context.Background(), "plan-1")
	c.Assert(err, jc.ErrorIsNil)

	due, err := svc.PendingEscalations(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(due, gc.HasLen, 0)

	s.clock.Advance(6*24*time.Hour + time.Second)
	due, err = svc.PendingEscalations(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(due, gc.HasLen, 1)
	c.Check(due[0].PlanUUID, gc.Equals, "plan-1")
}

func (s *serviceSuite) TestDefaultedPlansWithoutRecord(c *gc.C) {
	defer s.setupMocks(c).Finish()

	uuids, err := s.service().DefaultedPlansWithoutRecord(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(uuids, jc.DeepEquals, []string{"plan-1"})
}
