// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package domain

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	schematesting "github.com/canonical/vetpay/domain/schema/testing"
)

type atomicSuite struct {
	schematesting.LedgerSuite

	state *StateBase
}

var _ = gc.Suite(&atomicSuite{})

type optOut struct {
	Recipient string `db:"recipient"`
	Channel   string `db:"channel"`
	CreatedAt string `db:"created_at"`
}

func (s *atomicSuite) SetUpTest(c *gc.C) {
	s.LedgerSuite.SetUpTest(c)
	s.state = NewStateBase(s.TxnRunnerFactory())
}

func (s *atomicSuite) insert(actx AtomicContext, recipient string) error {
	stmt, err := s.state.Prepare(`
INSERT INTO notification_opt_out (recipient, channel, created_at)
VALUES ($optOut.recipient, $optOut.channel, $optOut.created_at)`, optOut{})
	if err != nil {
		return errors.Trace(err)
	}
	return Run(actx, func(ctx context.Context, tx *sqlair.TX) error {
		return tx.Query(ctx, stmt, optOut{
			Recipient: recipient,
			Channel:   "email",
			CreatedAt: "2024-03-01 00:00:00+00:00",
		}).Run()
	})
}

func (s *atomicSuite) TestRunAtomicCommits(c *gc.C) {
	err := s.state.RunAtomic(context.Background(), func(actx AtomicContext) error {
		if err := s.insert(actx, "a@example.com"); err != nil {
			return err
		}
		return s.insert(actx, "b@example.com")
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.CountRows(c, "notification_opt_out", ""), gc.Equals, 2)
}

func (s *atomicSuite) TestRunAtomicRollsBack(c *gc.C) {
	err := s.state.RunAtomic(context.Background(), func(actx AtomicContext) error {
		if err := s.insert(actx, "a@example.com"); err != nil {
			return err
		}
		return errors.New("boom")
	})
	c.Assert(err, gc.ErrorMatches, "boom")
	c.Check(s.CountRows(c, "notification_opt_out", ""), gc.Equals, 0)
}

func (s *atomicSuite) TestRunAfterCommitFails(c *gc.C) {
	var leaked AtomicContext
	err := s.state.RunAtomic(context.Background(), func(actx AtomicContext) error {
		leaked = actx
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)

	err = s.insert(leaked, "a@example.com")
	c.Assert(err, jc.ErrorIs, ErrAtomicContextClosed)
}

func (s *atomicSuite) TestPrepareCachesStatements(c *gc.C) {
	query := "SELECT &optOut.* FROM notification_opt_out"
	first, err := s.state.Prepare(query, optOut{})
	c.Assert(err, jc.ErrorIsNil)
	second, err := s.state.Prepare(query, optOut{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(first, gc.Equals, second)
}

func (s *atomicSuite) TestDBNilFactory(c *gc.C) {
	_, err := NewStateBase(nil).DB()
	c.Assert(err, gc.ErrorMatches, "nil getDB")
}
