// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package migrate_test

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/relstore/private/dbutil"
	"storj.io/relstore/private/migrate"
	"storj.io/relstore/private/tagsql"
)

func TestBasicMigration(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := tagsql.Open(ctx, "sqlite3", ctx.File("migrate.db"))
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	log := zaptest.NewLogger(t)

	m := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				DB:          db,
				Impl:        dbutil.SQLite3,
				Description: "initial setup",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE users (id int)`,
					`INSERT INTO users (id) VALUES (1)`,
				},
			},
			{
				DB:          db,
				Impl:        dbutil.SQLite3,
				Description: "add a second user",
				Version:     1,
				Action: migrate.Func(func(ctx context.Context, log *zap.Logger, _ tagsql.DB, tx tagsql.Tx) error {
					_, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (2)`)
					return err
				}),
			},
		},
	}

	require.NoError(t, m.Run(ctx, log))
	// running twice must not apply the steps again.
	require.NoError(t, m.Run(ctx, log))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
	require.Equal(t, 2, count)

	version, err := m.CurrentVersion(ctx, m.Steps[0])
	require.NoError(t, err)
	require.Equal(t, 1, version)

	require.NoError(t, m.ValidateVersions(ctx, log))
	require.NoError(t, m.TargetVersion(0).ValidateVersions(ctx, log))
}

func TestInvalidMigration(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	m := migrate.Migration{Table: "bad-name!"}
	require.Error(t, m.Run(ctx, zaptest.NewLogger(t)))

	m = migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{{Version: 2}, {Version: 1}},
	}
	require.Error(t, m.ValidateSteps())

	m = migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{{Version: 0, Action: migrate.SQL{}}},
	}
	require.Error(t, m.Run(ctx, zaptest.NewLogger(t)))
}
