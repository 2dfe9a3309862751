// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package throttle counts notification deliveries in Redis, so that the
// delivery limit is shared by every engine process.
package throttle

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vetpay:throttle:"

// Client is the subset of the Redis API used by the throttle.
type Client interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// NewClient connects to the Redis server at addr.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.NotValidf("empty redis address")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Annotatef(err, "connecting to redis at %q", addr)
	}
	return client, nil
}

// Throttle is a fixed-window delivery counter. A window starts with the
// first delivery for a key and the counter expires with it.
type Throttle struct {
	client Client
}

// New returns a Throttle backed by client.
func New(client Client) *Throttle {
	return &Throttle{client: client}
}

// Allow counts a delivery against key and reports whether it is within
// limit for the current window.
func (t *Throttle) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, errors.NotValidf("throttle limit %d", limit)
	}
	if window <= 0 {
		return false, errors.NotValidf("throttle window %v", window)
	}

	redisKey := keyPrefix + key
	count, err := t.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, errors.Annotatef(err, "counting deliveries for %q", key)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, errors.Annotatef(err, "starting throttle window for %q", key)
		}
	}
	return count <= int64(limit), nil
}
