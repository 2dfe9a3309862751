// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gateway hands charges and clinic transfers to the payment
// provider through its request queues. The provider reports the outcome
// of each charge asynchronously.
package gateway

import (
	"context"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/collection"
)

// Message kinds published to the provider.
const (
	KindCharge   = "charge"
	KindTransfer = "transfer"
)

// Publisher sends a message to a queue and returns its id.
type Publisher interface {
	Publish(ctx context.Context, kind, key string, body any) (string, error)
}

// ChargeExecutor requests charges from the provider. Every accepted
// request is reported as processing; the provider confirms success or
// failure later.
type ChargeExecutor struct {
	publisher Publisher
}

// NewChargeExecutor returns a ChargeExecutor publishing with publisher.
func NewChargeExecutor(publisher Publisher) *ChargeExecutor {
	return &ChargeExecutor{publisher: publisher}
}

// Charge publishes the charge request. The idempotency key is used to
// deduplicate the request on the queue and by the provider.
func (e *ChargeExecutor) Charge(ctx context.Context, req collection.ChargeRequest) (collection.ChargeResult, error) {
	if !req.Amount.IsPositive() {
		return collection.ChargeResult{}, errors.NotValidf("charge amount %s", req.Amount)
	}
	if req.PayerReference == "" {
		return collection.ChargeResult{}, errors.NotValidf("charge without payer reference")
	}
	if req.IdempotencyKey == "" {
		return collection.ChargeResult{}, errors.NotValidf("charge without idempotency key")
	}

	id, err := e.publisher.Publish(ctx, KindCharge, req.IdempotencyKey, req)
	if err != nil {
		return collection.ChargeResult{}, errors.Annotatef(err, "requesting charge of payment %q", req.PaymentUUID)
	}
	return collection.ChargeResult{
		Reference: id,
		Status:    collection.ChargeProcessing,
	}, nil
}

type transferRequest struct {
	Amount         money.Cents `json:"amount_cents"`
	Destination    string      `json:"destination"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// Disburser requests transfers to clinic accounts.
type Disburser struct {
	publisher Publisher
}

// NewDisburser returns a Disburser publishing with publisher.
func NewDisburser(publisher Publisher) *Disburser {
	return &Disburser{publisher: publisher}
}

// Transfer publishes a transfer of amount to the destination account and
// returns the transfer reference.
func (d *Disburser) Transfer(ctx context.Context, amount money.Cents, destination, idempotencyKey string) (string, error) {
	if !amount.IsPositive() {
		return "", errors.NotValidf("transfer amount %s", amount)
	}
	if destination == "" {
		return "", errors.NotValidf("transfer without destination")
	}

	id, err := d.publisher.Publish(ctx, KindTransfer, idempotencyKey, transferRequest{
		Amount:         amount,
		Destination:    destination,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return "", errors.Annotatef(err, "requesting transfer to %q", destination)
	}
	return id, nil
}
