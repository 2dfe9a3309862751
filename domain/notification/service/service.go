// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/logger"
	"github.com/canonical/vetpay/domain/notification"
)

// Sender delivers a message on a single channel.
type Sender interface {
	Send(context.Context, notification.Message) error
}

// Throttle counts deliveries per key within a rolling window.
type Throttle interface {
	// Allow counts a delivery against key and reports whether it is
	// within limit for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// State describes persistence of notification preferences.
type State interface {
	// OptOut stops all deliveries to a recipient on a channel.
	OptOut(context.Context, string, notification.Channel) error

	// IsOptedOut reports whether a recipient has opted out of a channel.
	IsOptedOut(context.Context, string, notification.Channel) (bool, error)
}

// Config holds the delivery limits.
type Config struct {
	// Limit is the maximum number of deliveries to one recipient on one
	// channel within Window.
	Limit int

	// Window is the throttling period.
	Window time.Duration

	// SendTimeout bounds each call to a sender.
	SendTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return errors.NotValidf("notification limit %d", c.Limit)
	}
	if c.Window <= 0 {
		return errors.NotValidf("notification window %v", c.Window)
	}
	if c.SendTimeout <= 0 {
		return errors.NotValidf("notification send timeout %v", c.SendTimeout)
	}
	return nil
}

// Service delivers notifications on a best-effort basis. No failure to
// deliver is ever returned to the caller.
type Service struct {
	st       State
	throttle Throttle
	senders  map[notification.Channel]Sender
	config   Config
	logger   logger.Logger
}

// NewService returns a new notification Service.
func NewService(
	st State,
	throttle Throttle,
	senders map[notification.Channel]Sender,
	config Config,
	logger logger.Logger,
) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if throttle == nil {
		return nil, errors.NotValidf("nil throttle")
	}
	return &Service{
		st:       st,
		throttle: throttle,
		senders:  senders,
		config:   config,
		logger:   logger,
	}, nil
}

// Notify delivers the message and reports whether it was handed to a
// sender successfully. Messages to opted-out or throttled recipients are
// dropped.
func (s *Service) Notify(ctx context.Context, msg notification.Message) bool {
	if err := msg.Validate(); err != nil {
		s.logger.Debugf("dropping notification %q: %v", msg.Template, err)
		return false
	}

	sender, ok := s.senders[msg.Channel]
	if !ok {
		s.logger.Debugf("no sender for %s, dropping notification %q", msg.Channel, msg.Template)
		return false
	}

	optedOut, err := s.st.IsOptedOut(ctx, msg.Recipient, msg.Channel)
	if err != nil {
		s.logger.Warningf("checking opt-out for %s notification %q: %v", msg.Channel, msg.Template, err)
		return false
	}
	if optedOut {
		s.logger.Debugf("recipient opted out of %s, dropping notification %q", msg.Channel, msg.Template)
		return false
	}

	allowed, err := s.throttle.Allow(ctx, msg.ThrottleKey(), s.config.Limit, s.config.Window)
	if err != nil {
		s.logger.Warningf("throttling %s notification %q: %v", msg.Channel, msg.Template, err)
		return false
	}
	if !allowed {
		s.logger.Infof("%s notification %q throttled", msg.Channel, msg.Template)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()
	if err := sender.Send(sendCtx, msg); err != nil {
		s.logger.Warningf("sending %s notification %q: %v", msg.Channel, msg.Template, err)
		return false
	}
	return true
}

// OptOut stops all deliveries to a recipient on a channel.
func (s *Service) OptOut(ctx context.Context, recipient string, channel notification.Channel) error {
	if err := channel.Validate(); err != nil {
		return errors.Trace(err)
	}
	if recipient == "" {
		return errors.NotValidf("empty recipient")
	}
	return errors.Trace(s.st.OptOut(ctx, recipient, channel))
}
