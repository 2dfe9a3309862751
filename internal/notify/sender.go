// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package notify delivers notifications by publishing them to the queue
// of the email or SMS delivery service, which renders the template.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/domain/notification"
)

// Publisher sends a message to a queue and returns its id.
type Publisher interface {
	Publish(ctx context.Context, kind, key string, body any) (string, error)
}

// Sender publishes the messages of one channel.
type Sender struct {
	channel   notification.Channel
	publisher Publisher
}

// NewSender returns a Sender for the channel.
func NewSender(channel notification.Channel, publisher Publisher) (*Sender, error) {
	if err := channel.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if publisher == nil {
		return nil, errors.NotValidf("nil publisher")
	}
	return &Sender{
		channel:   channel,
		publisher: publisher,
	}, nil
}

// Send publishes msg. Each message gets a fresh deduplication key, so that
// identical reminders sent on different days are all delivered.
func (s *Sender) Send(ctx context.Context, msg notification.Message) error {
	if msg.Channel != s.channel {
		return errors.NotValidf("%s message on %s sender", msg.Channel, s.channel)
	}
	_, err := s.publisher.Publish(ctx, "notification."+msg.Template, uuid.NewString(), msg)
	return errors.Annotatef(err, "publishing %s notification", s.channel)
}
