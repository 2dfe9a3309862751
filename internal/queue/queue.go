// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package queue publishes and consumes JSON messages on Amazon SQS queues.
// Charge requests, clinic transfers and notifications leave the engine
// through a Publisher; provider confirmations arrive through a Consumer.
package queue

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/juju/errors"
)

// KindAttribute is the message attribute naming the kind of a message.
const KindAttribute = "kind"

// Client is the subset of the SQS API used by this package.
type Client interface {
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ClientConfig describes how to reach SQS.
type ClientConfig struct {
	// Region is the AWS region of the queues.
	Region string

	// AccessKey and SecretKey are static credentials. When empty the
	// default credential chain is used.
	AccessKey string
	SecretKey string

	// Endpoint overrides the SQS endpoint, for local queue emulators.
	Endpoint string
}

// NewClient returns an SQS client for the configuration.
func NewClient(ctx context.Context, cfg ClientConfig) (*sqs.Client, error) {
	if cfg.Region == "" {
		return nil, errors.NotValidf("empty aws region")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, errors.NotValidf("aws credentials with only one of access key and secret key")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "loading aws configuration")
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// isFIFO reports whether the queue URL names a FIFO queue, which requires
// a message group and deduplication id on every message.
func isFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}
