// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/logger"
)

const (
	maxMessages = 10
	waitSeconds = 20
)

// Handler processes the body of one message. A message is deleted from
// the queue only when its handler returns nil.
type Handler func(ctx context.Context, kind string, body []byte) error

// Consumer long-polls a single queue.
type Consumer struct {
	client   Client
	queueURL string
	logger   logger.Logger
}

// NewConsumer returns a Consumer for the queue.
func NewConsumer(client Client, queueURL string, logger logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.NotValidf("nil sqs client")
	}
	if queueURL == "" {
		return nil, errors.NotValidf("empty queue url")
	}
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}, nil
}

// Receive waits for a batch of messages and hands each to handle. Messages
// that fail to be handled stay on the queue and are redelivered after
// their visibility timeout. It returns the number of messages handled.
func (c *Consumer) Receive(ctx context.Context, handle Handler) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   maxMessages,
		WaitTimeSeconds:       waitSeconds,
		MessageAttributeNames: []string{KindAttribute},
	})
	if err != nil {
		return 0, errors.Annotate(err, "receiving messages")
	}

	var handled int
	for _, msg := range out.Messages {
		id := aws.ToString(msg.MessageId)

		var kind string
		if attr, ok := msg.MessageAttributes[KindAttribute]; ok {
			kind = aws.ToString(attr.StringValue)
		}
		if err := handle(ctx, kind, []byte(aws.ToString(msg.Body))); err != nil {
			c.logger.Warningf("handling %s message %q: %v", kind, id, err)
			continue
		}

		_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		if err != nil {
			c.logger.Errorf("deleting message %q: %v", id, err)
			continue
		}
		handled++
	}
	return handled, nil
}
