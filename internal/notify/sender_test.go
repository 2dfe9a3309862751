// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package notify

import (
	"context"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/domain/notification"
)

type senderSuite struct {
	publisher *MockPublisher
}

var _ = gc.Suite(&senderSuite{})

func (s *senderSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.publisher = NewMockPublisher(ctrl)
	return ctrl
}

func (s *senderSuite) TestNewSenderValidates(c *gc.C) {
	defer s.setupMocks(c).Finish()

	_, err := NewSender("fax", s.publisher)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = NewSender(notification.ChannelEmail, nil)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *senderSuite) TestSend(c *gc.C) {
	defer s.setupMocks(c).Finish()

	msg := notification.Message{
		Channel:   notification.ChannelSMS,
		Recipient: "+15555550100",
		Template:  notification.TemplatePaymentFailed,
		Urgency:   2,
	}
	var keys []string
	s.publisher.EXPECT().Publish(gomock.Any(), "notification.payment_failed", gomock.Any(), msg).DoAndReturn(
		func(_ context.Context, _, key string, _ any) (string, error) {
			keys = append(keys, key)
			return "msg", nil
		}).Times(2)

	sender, err := NewSender(notification.ChannelSMS, s.publisher)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(sender.Send(context.Background(), msg), jc.ErrorIsNil)
	c.Assert(sender.Send(context.Background(), msg), jc.ErrorIsNil)
	c.Assert(keys, gc.HasLen, 2)
	c.Check(keys[0], gc.Not(gc.Equals), keys[1])
}

func (s *senderSuite) TestSendWrongChannel(c *gc.C) {
	defer s.setupMocks(c).Finish()

	sender, err := NewSender(notification.ChannelEmail, s.publisher)
	c.Assert(err, jc.ErrorIsNil)
	err = sender.Send(context.Background(), notification.Message{Channel: notification.ChannelSMS})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *senderSuite) TestSendError(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("boom"))

	sender, err := NewSender(notification.ChannelEmail, s.publisher)
	c.Assert(err, jc.ErrorIsNil)
	err = sender.Send(context.Background(), notification.Message{
		Channel: notification.ChannelEmail, Recipient: "owner@example.com", Template: "x",
	})
	c.Check(err, gc.ErrorMatches, "publishing email notification: boom")
}
