// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"database/sql"
	"path/filepath"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coredatabase "github.com/canonical/vetpay/core/database"
	"github.com/canonical/vetpay/core/database/schema"
	"github.com/canonical/vetpay/internal/database"
)

// SQLiteSuite provides a fresh file backed sqlite database for every test.
type SQLiteSuite struct {
	db     *sql.DB
	runner coredatabase.TxnRunner
}

// SetUpTest opens a new database in a temporary directory.
func (s *SQLiteSuite) SetUpTest(c *gc.C) {
	var err error
	s.db, err = database.Open(filepath.Join(c.MkDir(), "ledger.db"))
	c.Assert(err, jc.ErrorIsNil)
	s.runner = database.NewTxnRunner(s.db)
}

// TearDownTest closes the database.
func (s *SQLiteSuite) TearDownTest(c *gc.C) {
	if s.db != nil {
		err := s.db.Close()
		c.Check(err, jc.ErrorIsNil)
		s.db = nil
	}
}

// ApplyDDL applies the given schema to the database.
func (s *SQLiteSuite) ApplyDDL(c *gc.C, ddl *schema.Schema) {
	changes, err := ddl.Ensure(context.Background(), s.runner)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(changes.Post, gc.Equals, ddl.Len())
}

// DB returns the raw database handle.
func (s *SQLiteSuite) DB() *sql.DB {
	return s.db
}

// TxnRunner returns the suite's transaction runner.
func (s *SQLiteSuite) TxnRunner() coredatabase.TxnRunner {
	return s.runner
}

// TxnRunnerFactory returns a factory handing out the suite's runner.
func (s *SQLiteSuite) TxnRunnerFactory() coredatabase.TxnRunnerFactory {
	return database.TxnRunnerFactory(s.runner)
}
