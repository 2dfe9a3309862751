// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package collector

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/internal/sweep"
)

const (
	interval  = 10 * time.Minute
	shortWait = 50 * time.Millisecond
	longWait  = 10 * time.Second
)

type workerSuite struct {
	clock   *testclock.Clock
	sweeper *fakeSweeper
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.clock = testclock.NewClock(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	s.sweeper = &fakeSweeper{runs: make(chan struct{}, 10)}
}

func (s *workerSuite) config() Config {
	return Config{
		Sweeper:  s.sweeper,
		Interval: interval,
		Clock:    s.clock,
		Logger:   loggo.GetLogger("vetpay.collector.test"),
	}
}

func (s *workerSuite) TestValidate(c *gc.C) {
	cfg := s.config()
	c.Check(cfg.Validate(), jc.ErrorIsNil)

	cfg.Sweeper = nil
	c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)

	cfg = s.config()
	cfg.Interval = 0
	c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)

	cfg = s.config()
	cfg.Clock = nil
	c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)

	cfg = s.config()
	cfg.Logger = nil
	c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)

	_, err := NewWorker(cfg)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *workerSuite) TestSweepsEachInterval(c *gc.C) {
	w, err := NewWorker(s.config())
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, w)

	s.expectNoRun(c)

	for i := 0; i < 2; i++ {
		err := s.clock.WaitAdvance(interval, longWait, 1)
		c.Assert(err, jc.ErrorIsNil)
		s.expectRun(c)
	}
}

func (s *workerSuite) TestFailedSweepKeepsRunning(c *gc.C) {
	s.sweeper.result = sweep.Result{Payments: sweep.Step{Error: "boom"}}

	w, err := NewWorker(s.config())
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, w)

	err = s.clock.WaitAdvance(interval, longWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	s.expectRun(c)

	err = s.clock.WaitAdvance(interval, longWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	s.expectRun(c)
}

func (s *workerSuite) expectRun(c *gc.C) {
	select {
	case <-s.sweeper.runs:
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for sweep")
	}
}

func (s *workerSuite) expectNoRun(c *gc.C) {
	select {
	case <-s.sweeper.runs:
		c.Fatalf("unexpected sweep")
	case <-time.After(shortWait):
	}
}

type fakeSweeper struct {
	result sweep.Result
	runs   chan struct{}
}

func (f *fakeSweeper) Run(ctx context.Context) sweep.Result {
	f.runs <- struct{}{}
	return f.result
}
