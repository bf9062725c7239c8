// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package pgutil_test

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"storj.io/relstore/private/dbutil/pgutil"
)

func TestCheckApplicationName(t *testing.T) {
	connstr, err := pgutil.CheckApplicationName("postgres://localhost/db", "relstore-pack")
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/db?application_name=relstore-pack", connstr)

	connstr, err = pgutil.CheckApplicationName("postgres://localhost/db?sslmode=disable", "")
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/db?application_name=relstore&sslmode=disable", connstr)

	connstr, err = pgutil.CheckApplicationName("postgres://localhost/db?application_name=other", "relstore-pack")
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/db?application_name=other", connstr)

	connstr, err = pgutil.CheckApplicationName("/tmp/relstore.db", "relstore-pack")
	require.NoError(t, err)
	require.Equal(t, "/tmp/relstore.db", connstr)
}

func TestConnstrWithSchema(t *testing.T) {
	require.Equal(t,
		"postgres://localhost/db?search_path=%22pack-1%22",
		pgutil.ConnstrWithSchema("postgres://localhost/db", "pack-1"))
	require.Equal(t,
		"postgres://localhost/db?sslmode=disable&search_path=%22a%22%22b%22",
		pgutil.ConnstrWithSchema("postgres://localhost/db?sslmode=disable", `a"b`))

	require.Len(t, pgutil.CreateRandomTestingSchemaName(8), 16)

	schema, err := pgutil.ParseSchemaFromConnstr(pgutil.ConnstrWithSchema("postgres://localhost/db", `a"b`))
	require.NoError(t, err)
	require.Equal(t, `a"b`, schema)

	schema, err = pgutil.ParseSchemaFromConnstr("postgres://localhost/db")
	require.NoError(t, err)
	require.Equal(t, "", schema)
}

func TestIsConstraintError(t *testing.T) {
	require.True(t, pgutil.IsConstraintError(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, pgutil.IsConstraintError(&pgconn.PgError{Code: "40001"}))
	require.False(t, pgutil.IsConstraintError(nil))
}
