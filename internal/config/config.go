// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the configuration of the vetpay daemon.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/canonical/vetpay/core/money"
)

const (
	// DatabasePath is the path of the SQLite ledger database.
	DatabasePath = "database-path"

	// ListenAddress is the address of the HTTP server.
	ListenAddress = "listen-address"

	// SweepToken is the bearer token required to trigger a sweep.
	SweepToken = "sweep-token"

	// WebhookSecret is the key of the HMAC signature on provider
	// callbacks.
	WebhookSecret = "webhook-secret"

	// SweepInterval is the period of the in-process sweep. Zero disables
	// it, leaving sweeps to the HTTP trigger.
	SweepInterval = "sweep-interval"

	// SweepConcurrency is the number of payments charged at once.
	SweepConcurrency = "sweep-concurrency"

	// ChargeTimeout bounds each call to the payment provider.
	ChargeTimeout = "charge-timeout"

	// TransferTimeout bounds each clinic transfer request.
	TransferTimeout = "transfer-timeout"

	// NotifyTimeout bounds each notification delivery.
	NotifyTimeout = "notify-timeout"

	// MinBillCents is the smallest bill that can be enrolled.
	MinBillCents = "min-bill-cents"

	// MaxRetries is the number of retries of a failed payment before it
	// is written off.
	MaxRetries = "max-retries"

	// RetryMinDays is the minimum number of days before a retry.
	RetryMinDays = "retry-min-days"

	// ClinicShareRate is the fraction of each payment paid to the clinic.
	ClinicShareRate = "clinic-share-rate"

	// ContributionRate is the fraction of each plan total paid into the
	// guarantee fund at enrollment.
	ContributionRate = "contribution-rate"

	// NotificationLimit is the number of notifications a recipient may
	// receive on one channel within NotificationWindow.
	NotificationLimit = "notification-limit"

	// NotificationWindow is the notification throttling period.
	NotificationWindow = "notification-window"

	// RedisAddress is the Redis server counting notifications. When empty
	// notifications are counted in the ledger database.
	RedisAddress = "redis-address"

	// AWSRegion is the region of the SQS queues.
	AWSRegion = "aws-region"

	// AWSAccessKey and AWSSecretKey are static SQS credentials.
	AWSAccessKey = "aws-access-key"
	AWSSecretKey = "aws-secret-key"

	// SQSEndpoint overrides the SQS endpoint.
	SQSEndpoint = "sqs-endpoint"

	// SQSChargeQueueURL is the queue of charge requests.
	SQSChargeQueueURL = "sqs-charge-queue-url"

	// SQSTransferQueueURL is the queue of clinic transfer requests.
	SQSTransferQueueURL = "sqs-transfer-queue-url"

	// SQSResultQueueURL is the queue of charge outcomes reported by the
	// provider, consumed as an alternative to the webhook.
	SQSResultQueueURL = "sqs-result-queue-url"

	// SQSEmailQueueURL and SQSSMSQueueURL are the queues of the
	// notification delivery services.
	SQSEmailQueueURL = "sqs-email-queue-url"
	SQSSMSQueueURL   = "sqs-sms-queue-url"

	// LogFile is the path of the rotated log file. When empty logs are
	// written to stderr.
	LogFile = "log-file"

	// LoggingConfig is the loggo configuration string.
	LoggingConfig = "logging-config"
)

const (
	DefaultDatabasePath       = "vetpay.db"
	DefaultListenAddress      = ":8080"
	DefaultSweepInterval      = "24h"
	DefaultSweepConcurrency   = 8
	DefaultChargeTimeout      = "30s"
	DefaultTransferTimeout    = "30s"
	DefaultNotifyTimeout      = "10s"
	DefaultMinBillCents       = 50000
	DefaultMaxRetries         = 3
	DefaultRetryMinDays       = 3
	DefaultClinicShareRate    = "0.94"
	DefaultContributionRate   = "0.01"
	DefaultNotificationLimit  = 5
	DefaultNotificationWindow = "24h"
	DefaultLoggingConfig      = "<root>=INFO"
)

var configChecker = schema.FieldMap(schema.Fields{
	DatabasePath:        schema.NonEmptyString(DatabasePath),
	ListenAddress:       schema.NonEmptyString(ListenAddress),
	SweepToken:          schema.NonEmptyString(SweepToken),
	WebhookSecret:       schema.NonEmptyString(WebhookSecret),
	SweepInterval:       schema.TimeDurationString(),
	SweepConcurrency:    schema.ForceInt(),
	ChargeTimeout:       schema.TimeDurationString(),
	TransferTimeout:     schema.TimeDurationString(),
	NotifyTimeout:       schema.TimeDurationString(),
	MinBillCents:        schema.ForceInt(),
	MaxRetries:          schema.ForceInt(),
	RetryMinDays:        schema.ForceInt(),
	ClinicShareRate:     rateChecker{},
	ContributionRate:    rateChecker{},
	NotificationLimit:   schema.ForceInt(),
	NotificationWindow:  schema.TimeDurationString(),
	RedisAddress:        schema.String(),
	AWSRegion:           schema.String(),
	AWSAccessKey:        schema.String(),
	AWSSecretKey:        schema.String(),
	SQSEndpoint:         schema.String(),
	SQSChargeQueueURL:   schema.NonEmptyString(SQSChargeQueueURL),
	SQSTransferQueueURL: schema.NonEmptyString(SQSTransferQueueURL),
	SQSResultQueueURL:   schema.String(),
	SQSEmailQueueURL:    schema.String(),
	SQSSMSQueueURL:      schema.String(),
	LogFile:             schema.String(),
	LoggingConfig:       schema.String(),
}, schema.Defaults{
	DatabasePath:       DefaultDatabasePath,
	ListenAddress:      DefaultListenAddress,
	SweepInterval:      DefaultSweepInterval,
	SweepConcurrency:   DefaultSweepConcurrency,
	ChargeTimeout:      DefaultChargeTimeout,
	TransferTimeout:    DefaultTransferTimeout,
	NotifyTimeout:      DefaultNotifyTimeout,
	MinBillCents:       DefaultMinBillCents,
	MaxRetries:         DefaultMaxRetries,
	RetryMinDays:       DefaultRetryMinDays,
	ClinicShareRate:    DefaultClinicShareRate,
	ContributionRate:   DefaultContributionRate,
	NotificationLimit:  DefaultNotificationLimit,
	NotificationWindow: DefaultNotificationWindow,
	RedisAddress:       "",
	AWSRegion:          "",
	AWSAccessKey:       "",
	AWSSecretKey:       "",
	SQSEndpoint:        "",
	SQSResultQueueURL:  "",
	SQSEmailQueueURL:   "",
	SQSSMSQueueURL:     "",
	LogFile:            "",
	LoggingConfig:      DefaultLoggingConfig,
})

// rateChecker accepts a rate written either as a YAML number or as a
// string, and coerces it to a decimal.
type rateChecker struct{}

func (rateChecker) Coerce(v any, path []string) (any, error) {
	switch v := v.(type) {
	case string:
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errors.Errorf("%s: expected decimal rate, got %q", schemaPath(path), v)
		}
		return rate, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return nil, errors.Errorf("%s: expected decimal rate, got %T(%v)", schemaPath(path), v, v)
	}
}

func schemaPath(path []string) string {
	if len(path) > 0 && path[0] == "." {
		path = path[1:]
	}
	if s := strings.Join(path, ""); s != "" {
		return s
	}
	return "value"
}

// Config is the validated daemon configuration.
type Config struct {
	DatabasePath       string
	ListenAddress      string
	SweepToken         string
	WebhookSecret      string
	SweepInterval      time.Duration
	SweepConcurrency   int
	ChargeTimeout      time.Duration
	TransferTimeout    time.Duration
	NotifyTimeout      time.Duration
	MinBill            money.Cents
	MaxRetries         int
	RetryMinDays       int
	ClinicShareRate    decimal.Decimal
	ContributionRate   decimal.Decimal
	NotificationLimit  int
	NotificationWindow time.Duration
	RedisAddress       string
	AWSRegion          string
	AWSAccessKey       string
	AWSSecretKey       string
	SQSEndpoint        string
	ChargeQueueURL     string
	TransferQueueURL   string
	ResultQueueURL     string
	EmailQueueURL      string
	SMSQueueURL        string
	LogFile            string
	LoggingConfig      string
}

// Read reads and validates the YAML configuration file at path.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading configuration %q", path)
	}
	var attrs map[string]any
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return Config{}, errors.Annotatef(err, "parsing configuration %q", path)
	}
	cfg, err := New(attrs)
	return cfg, errors.Annotatef(err, "configuration %q", path)
}

// New coerces the attributes, fills in defaults and validates the result.
func New(attrs map[string]any) (Config, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return Config{}, errors.NotValidf("configuration: %v", err)
	}
	m := coerced.(map[string]any)

	cfg := Config{
		DatabasePath:       m[DatabasePath].(string),
		ListenAddress:      m[ListenAddress].(string),
		SweepToken:         m[SweepToken].(string),
		WebhookSecret:      m[WebhookSecret].(string),
		SweepInterval:      m[SweepInterval].(time.Duration),
		SweepConcurrency:   m[SweepConcurrency].(int),
		ChargeTimeout:      m[ChargeTimeout].(time.Duration),
		TransferTimeout:    m[TransferTimeout].(time.Duration),
		NotifyTimeout:      m[NotifyTimeout].(time.Duration),
		MinBill:            money.Cents(m[MinBillCents].(int)),
		MaxRetries:         m[MaxRetries].(int),
		RetryMinDays:       m[RetryMinDays].(int),
		ClinicShareRate:    m[ClinicShareRate].(decimal.Decimal),
		ContributionRate:   m[ContributionRate].(decimal.Decimal),
		NotificationLimit:  m[NotificationLimit].(int),
		NotificationWindow: m[NotificationWindow].(time.Duration),
		RedisAddress:       m[RedisAddress].(string),
		AWSRegion:          m[AWSRegion].(string),
		AWSAccessKey:       m[AWSAccessKey].(string),
		AWSSecretKey:       m[AWSSecretKey].(string),
		SQSEndpoint:        m[SQSEndpoint].(string),
		ChargeQueueURL:     m[SQSChargeQueueURL].(string),
		TransferQueueURL:   m[SQSTransferQueueURL].(string),
		ResultQueueURL:     m[SQSResultQueueURL].(string),
		EmailQueueURL:      m[SQSEmailQueueURL].(string),
		SMSQueueURL:        m[SQSSMSQueueURL].(string),
		LogFile:            m[LogFile].(string),
		LoggingConfig:      m[LoggingConfig].(string),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Validate checks the configuration values are within range.
func (c Config) Validate() error {
	if c.SweepInterval < 0 {
		return errors.NotValidf("%s %v", SweepInterval, c.SweepInterval)
	}
	for key, v := range map[string]int{
		SweepConcurrency:  c.SweepConcurrency,
		MinBillCents:      int(c.MinBill),
		RetryMinDays:      c.RetryMinDays,
		NotificationLimit: c.NotificationLimit,
	} {
		if v <= 0 {
			return errors.NotValidf("%s %d", key, v)
		}
	}
	if c.MaxRetries < 0 {
		return errors.NotValidf("%s %d", MaxRetries, c.MaxRetries)
	}
	for key, d := range map[string]time.Duration{
		ChargeTimeout:      c.ChargeTimeout,
		TransferTimeout:    c.TransferTimeout,
		NotifyTimeout:      c.NotifyTimeout,
		NotificationWindow: c.NotificationWindow,
	} {
		if d <= 0 {
			return errors.NotValidf("%s %v", key, d)
		}
	}

	one := decimal.NewFromInt(1)
	if !c.ClinicShareRate.IsPositive() || c.ClinicShareRate.GreaterThan(one) {
		return errors.NotValidf("%s %s outside (0, 1]", ClinicShareRate, c.ClinicShareRate)
	}
	if c.ContributionRate.IsNegative() || c.ContributionRate.GreaterThan(one) {
		return errors.NotValidf("%s %s outside [0, 1]", ContributionRate, c.ContributionRate)
	}

	if c.AWSRegion == "" {
		return errors.NotValidf("missing %s", AWSRegion)
	}
	if (c.AWSAccessKey == "") != (c.AWSSecretKey == "") {
		return errors.NotValidf("%s without %s", AWSAccessKey, AWSSecretKey)
	}
	return nil
}
