// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type sqliteSuite struct {
	db *sql.DB
}

var _ = gc.Suite(&sqliteSuite{})

func (s *sqliteSuite) SetUpTest(c *gc.C) {
	var err error
	s.db, err = Open(filepath.Join(c.MkDir(), "ledger.db"))
	c.Assert(err, jc.ErrorIsNil)

	_, err = s.db.Exec(`
CREATE TABLE counter (
    id    INT PRIMARY KEY,
    value INT NOT NULL CHECK (value >= 0)
);
INSERT INTO counter VALUES (1, 0);`)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *sqliteSuite) TearDownTest(c *gc.C) {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *sqliteSuite) TestOpenEmptyPath(c *gc.C) {
	_, err := Open("")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *sqliteSuite) TestConstraintClassification(c *gc.C) {
	_, err := s.db.Exec("INSERT INTO counter VALUES (1, 0)")
	c.Assert(err, gc.NotNil)
	c.Check(IsErrConstraintUnique(err), jc.IsTrue)
	c.Check(IsErrConstraintCheck(err), jc.IsFalse)

	_, err = s.db.Exec("INSERT INTO counter VALUES (2, -1)")
	c.Assert(err, gc.NotNil)
	c.Check(IsErrConstraintCheck(err), jc.IsTrue)
	c.Check(IsErrConstraintUnique(err), jc.IsFalse)

	c.Check(IsErrConstraintUnique(errors.New("boom")), jc.IsFalse)
}

func (s *sqliteSuite) TestConcurrentReadModifyWrite(c *gc.C) {
	runner := NewTxnRunner(s.db)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := runner.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
				var v int
				if err := tx.QueryRowContext(ctx, "SELECT value FROM counter WHERE id = 1").Scan(&v); err != nil {
					return errors.Trace(err)
				}
				_, err := tx.ExecContext(ctx, "UPDATE counter SET value = ? WHERE id = 1", v+1)
				return errors.Trace(err)
			})
			c.Check(err, jc.ErrorIsNil)
		}()
	}
	wg.Wait()

	var v int
	err := s.db.QueryRow("SELECT value FROM counter WHERE id = 1").Scan(&v)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(v, gc.Equals, workers)
}

func (s *sqliteSuite) TestTxnRunnerFactory(c *gc.C) {
	runner := NewTxnRunner(s.db)
	got, err := TxnRunnerFactory(runner)()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, gc.Equals, runner)

	_, err = TxnRunnerFactory(nil)()
	c.Assert(err, gc.ErrorMatches, "nil txn runner")
}
