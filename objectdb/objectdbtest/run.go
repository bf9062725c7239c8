// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objectdbtest runs tests against every configured object database.
package objectdbtest

// This package should be referenced only in test files!

import (
	"context"
	"strings"
	"testing"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/dbutil/pgutil"
	"storj.io/relstore/private/dbutil/pgutil/pgtest"
	"storj.io/relstore/private/tagsql"
)

// Database describes a test database.
type Database struct {
	Name    string
	URL     string
	Message string
}

type ignoreSkip struct{}

func (ignoreSkip) Skip(...interface{}) {}

// Databases returns default databases. An empty URL for sqlite3 means a
// fresh file in the test directory.
func Databases() []Database {
	return []Database{
		{Name: "SQLite3", URL: ""},
		{Name: "Postgres", URL: pgtest.PickPostgres(ignoreSkip{}), Message: "use STORJ_TEST_POSTGRES environment variable"},
		{Name: "Cockroach", URL: pgtest.PickCockroach(ignoreSkip{}), Message: "use STORJ_TEST_COCKROACH environment variable"},
	}
}

// SchemaName returns a properly formatted schema string.
func SchemaName(testname string) string {
	suffix := pgutil.CreateRandomTestingSchemaName(6)

	// postgres has a maximum schema length of 64
	maxTestNameLen := 64 - len(suffix) - 1
	if len(testname) > maxTestNameLen {
		testname = testname[:maxTestNameLen]
	}
	return strings.ToLower(testname + "/" + suffix)
}

// Open opens a fresh, migrated object database for the test.
func Open(ctx *testcontext.Context, log *zap.Logger, name string, dbInfo Database, config objectdb.Config) (_ *objectdb.DB, cleanup func() error, err error) {
	if config.ApplicationName == "" {
		config.ApplicationName = "relstore-test"
	}

	if dbInfo.Name == "SQLite3" {
		db, err := objectdb.Open(ctx, log, "sqlite3://"+ctx.File("objects.db"), config)
		if err != nil {
			return nil, nil, err
		}
		if err := db.MigrateToLatest(ctx); err != nil {
			return nil, nil, errs.Combine(err, db.Close())
		}
		return db, db.Close, nil
	}

	schema := SchemaName(name)
	db, err := objectdb.Open(ctx, log, pgutil.ConnstrWithSchema(dbInfo.URL, schema), config)
	if err != nil {
		return nil, nil, err
	}

	cleanup = func() error {
		dropErr := db.WithTx(context.Background(), func(ctx context.Context, tx tagsql.Tx) error {
			return pgutil.DropSchema(ctx, tx, schema)
		})
		return errs.Combine(dropErr, db.Close())
	}

	if err := db.MigrateToLatest(ctx); err != nil {
		return nil, nil, errs.Combine(err, cleanup())
	}
	return db, cleanup, nil
}

// Run method will iterate over all supported databases. Will establish
// connection and will create tables for each DB.
func Run(t *testing.T, config objectdb.Config, test func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB)) {
	for _, dbInfo := range Databases() {
		dbInfo := dbInfo
		t.Run(dbInfo.Name, func(t *testing.T) {
			t.Parallel()

			ctx := testcontext.New(t)
			defer ctx.Cleanup()

			if dbInfo.Name != "SQLite3" && dbInfo.URL == "" {
				t.Skipf("Database %s connection string not provided. %s", dbInfo.Name, dbInfo.Message)
			}

			db, cleanup, err := Open(ctx, zaptest.NewLogger(t), t.Name(), dbInfo, config)
			if err != nil {
				t.Fatal(err)
			}
			defer func() {
				err := cleanup()
				if err != nil {
					t.Fatal(err)
				}
			}()

			test(ctx, t, db)
		})
	}
}

// RunBoth runs test against the history preserving and the history free
// layout of every supported database.
func RunBoth(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB)) {
	t.Run("HistoryPreserving", func(t *testing.T) {
		Run(t, objectdb.Config{KeepHistory: true}, test)
	})
	t.Run("HistoryFree", func(t *testing.T) {
		Run(t, objectdb.Config{KeepHistory: false}, test)
	})
}
