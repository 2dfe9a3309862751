// Copyright 2023 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package schema

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/database"
)

// Patch is a single schema change, applied exactly once.
type Patch struct {
	stmt string
	args []any
	hash string
}

// MakePatch returns a patch for the given statement and arguments.
func MakePatch(statement string, args ...any) Patch {
	h := fnv.New64a()
	_, _ = h.Write([]byte(statement))
	return Patch{
		stmt: statement,
		args: args,
		hash: fmt.Sprintf("%x", h.Sum64()),
	}
}

func (p Patch) run(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, p.stmt, p.args...)
	return errors.Trace(err)
}

// Schema is an ordered list of patches. A database records which patches
// it has seen in the schema table, so applying a schema only runs the
// patches added since the previous run.
type Schema struct {
	patches []Patch
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{}
}

// Add appends patches to the schema.
func (s *Schema) Add(patches ...Patch) {
	s.patches = append(s.patches, patches...)
}

// Len returns the number of patches in the schema.
func (s *Schema) Len() int {
	return len(s.patches)
}

// ChangeSet is the version of the schema before and after Ensure.
type ChangeSet struct {
	Current, Post int
}

// Ensure applies all patches that have not yet been applied to the
// database, in a single transaction. It refuses to proceed if the
// database knows of a patch that differs from the one at the same version
// in the schema, or is ahead of the schema.
func (s *Schema) Ensure(ctx context.Context, runner database.TxnRunner) (ChangeSet, error) {
	var result ChangeSet
	err := runner.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_version (
    version     INT PRIMARY KEY,
    hash        TEXT NOT NULL,
    applied_at  DATETIME NOT NULL DEFAULT(STRFTIME('%Y-%m-%d %H:%M:%f', 'NOW', 'utc'))
);`); err != nil {
			return errors.Annotate(err, "creating schema table")
		}

		rows, err := tx.QueryContext(ctx, "SELECT version, hash FROM schema_version ORDER BY version")
		if err != nil {
			return errors.Annotate(err, "reading schema versions")
		}
		applied := make(map[int]string)
		for rows.Next() {
			var (
				version int
				hash    string
			)
			if err := rows.Scan(&version, &hash); err != nil {
				_ = rows.Close()
				return errors.Trace(err)
			}
			applied[version] = hash
		}
		if err := rows.Close(); err != nil {
			return errors.Trace(err)
		}
		if err := rows.Err(); err != nil {
			return errors.Trace(err)
		}

		current := len(applied)
		if current > len(s.patches) {
			return errors.Errorf("database schema version %d is ahead of %d known patches", current, len(s.patches))
		}
		for version := 1; version <= current; version++ {
			hash, ok := applied[version]
			if !ok {
				return errors.Errorf("database schema is missing version %d", version)
			}
			if hash != s.patches[version-1].hash {
				return errors.Errorf("database schema version %d does not match patch", version)
			}
		}

		for i := current; i < len(s.patches); i++ {
			patch := s.patches[i]
			if err := patch.run(ctx, tx); err != nil {
				return errors.Annotatef(err, "applying schema patch %d", i+1)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, hash) VALUES (?, ?)", i+1, patch.hash,
			); err != nil {
				return errors.Annotatef(err, "recording schema patch %d", i+1)
			}
		}

		result = ChangeSet{Current: current, Post: len(s.patches)}
		return nil
	})
	return result, errors.Trace(err)
}
