// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/juju/errors"
)

// Publisher sends JSON messages to a single queue.
type Publisher struct {
	client   Client
	queueURL string
}

// NewPublisher returns a Publisher for the queue.
func NewPublisher(client Client, queueURL string) (*Publisher, error) {
	if client == nil {
		return nil, errors.NotValidf("nil sqs client")
	}
	if queueURL == "" {
		return nil, errors.NotValidf("empty queue url")
	}
	return &Publisher{
		client:   client,
		queueURL: queueURL,
	}, nil
}

// Publish sends body, encoded as JSON, with its kind as a message
// attribute. On FIFO queues key is used as both the message group and the
// deduplication id, so a message published twice with the same key is
// delivered once. The SQS message id is returned.
func (p *Publisher) Publish(ctx context.Context, kind, key string, body any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", errors.Annotatef(err, "encoding %s message", kind)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(data)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			KindAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(kind),
			},
		},
	}
	if isFIFO(p.queueURL) {
		if key == "" {
			return "", errors.NotValidf("%s message without deduplication key", kind)
		}
		input.MessageGroupId = aws.String(key)
		input.MessageDeduplicationId = aws.String(key)
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return "", errors.Annotatef(err, "sending %s message", kind)
	}
	return aws.ToString(out.MessageId), nil
}
