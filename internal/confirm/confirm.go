// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package confirm maps charge outcomes reported by the payment provider
// onto the collection engine. Outcomes arrive both as signed webhook calls
// and as messages on the result queue, and may be delivered more than
// once.
package confirm

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"
)

// EventType is the outcome reported by the provider.
type EventType string

const (
	// PaymentSucceeded reports that the provider collected the payment.
	PaymentSucceeded EventType = "payment.succeeded"
	// PaymentFailed reports that the provider could not collect the
	// payment. The event's reason says why.
	PaymentFailed EventType = "payment.failed"
	// PaymentProcessing reports that the provider accepted the charge and
	// will send its outcome later.
	PaymentProcessing EventType = "payment.processing"
)

// Event is a charge outcome. The payment is identified by its uuid or,
// failing that, by the provider reference returned when it was charged.
type Event struct {
	Type        EventType `json:"type"`
	PaymentUUID string    `json:"payment_uuid,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Validate checks the event can be applied.
func (e Event) Validate() error {
	switch e.Type {
	case PaymentSucceeded, PaymentFailed, PaymentProcessing:
	default:
		return errors.NotValidf("event type %q", e.Type)
	}
	if e.PaymentUUID == "" && e.Reference == "" {
		return errors.NotValidf("event without payment uuid or reference")
	}
	return nil
}

// Parse decodes an event.
func Parse(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, errors.NotValidf("event: %v", err)
	}
	return e, errors.Trace(e.Validate())
}

// Confirmer records charge outcomes.
type Confirmer interface {
	ConfirmSucceeded(ctx context.Context, paymentUUID, reference string) error
	ConfirmFailed(ctx context.Context, paymentUUID, reason string) error
	ConfirmProcessing(ctx context.Context, paymentUUID, reference string) error
	PaymentUUIDForReference(ctx context.Context, reference string) (string, error)
}

// Apply records the event. Applying an event twice has the effect of
// applying it once.
func Apply(ctx context.Context, confirmer Confirmer, e Event) error {
	if err := e.Validate(); err != nil {
		return errors.Trace(err)
	}

	paymentUUID := e.PaymentUUID
	if paymentUUID == "" {
		var err error
		if paymentUUID, err = confirmer.PaymentUUIDForReference(ctx, e.Reference); err != nil {
			return errors.Trace(err)
		}
	}

	var err error
	switch e.Type {
	case PaymentSucceeded:
		err = confirmer.ConfirmSucceeded(ctx, paymentUUID, e.Reference)
	case PaymentFailed:
		reason := e.Reason
		if reason == "" {
			reason = "declined by provider"
		}
		err = confirmer.ConfirmFailed(ctx, paymentUUID, reason)
	case PaymentProcessing:
		err = confirmer.ConfirmProcessing(ctx, paymentUUID, e.Reference)
	}
	return errors.Annotatef(err, "applying %s for payment %q", e.Type, paymentUUID)
}
