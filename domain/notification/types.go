// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package notification

import (
	"github.com/juju/errors"
)

// Channel is an outbound delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Validate returns an error satisfying [errors.NotValid] if the channel is
// unknown.
func (c Channel) Validate() error {
	switch c {
	case ChannelEmail, ChannelSMS:
		return nil
	default:
		return errors.NotValidf("notification channel %q", string(c))
	}
}

// Template names understood by the delivery collaborators.
const (
	TemplatePaymentFailed       = "payment_failed"
	TemplateSoftCollectionDay1  = "soft_collection_day_1"
	TemplateSoftCollectionDay7  = "soft_collection_day_7"
	TemplateSoftCollectionDay14 = "soft_collection_day_14"
)

// Message is a templated payload for a single recipient on one channel.
// Rendering is left to the delivery collaborator.
type Message struct {
	Channel   Channel           `json:"channel"`
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Urgency   int               `json:"urgency,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// Validate checks the message can be delivered.
func (m Message) Validate() error {
	if err := m.Channel.Validate(); err != nil {
		return errors.Trace(err)
	}
	if m.Recipient == "" {
		return errors.NotValidf("empty recipient")
	}
	if m.Template == "" {
		return errors.NotValidf("empty template")
	}
	return nil
}

// ThrottleKey is the key under which deliveries to the message's recipient
// on its channel are counted.
func (m Message) ThrottleKey() string {
	return string(m.Channel) + ":" + m.Recipient
}
