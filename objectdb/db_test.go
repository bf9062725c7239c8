// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/relstore/objectdb"
	"storj.io/relstore/objectdb/objectdbtest"
	"storj.io/relstore/private/tagsql"
)

func TestOpenUnsupported(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := objectdb.Open(ctx, zaptest.NewLogger(t), "mysql://localhost/db", objectdb.Config{})
	require.Error(t, err)

	_, err = objectdb.Open(ctx, zaptest.NewLogger(t), "sqlite3://:memory:", objectdb.Config{})
	require.Error(t, err)
}

func TestMigrateTwice(t *testing.T) {
	objectdbtest.RunBoth(t, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		require.NoError(t, db.MigrateToLatest(ctx))

		version, err := db.Migration().CurrentVersion(ctx, db.Migration().Steps[0])
		require.NoError(t, err)
		require.Equal(t, 1, version)

		for _, table := range []string{"pack_object", "pack_state", "pack_state_tid", "temp_pack_visit", "object_ref", "object_refs_added"} {
			require.Zero(t, objectdbtest.Count(ctx, t, db, table), table)
		}
	})
}

func TestCommitHelper(t *testing.T) {
	objectdbtest.RunBoth(t, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		objectdbtest.Commit(ctx, t, db, 5,
			objectdbtest.Object{OID: 0, State: objectdbtest.State("root", 1)},
			objectdbtest.Object{OID: 1, State: objectdbtest.State("one"), Blob: [][]byte{[]byte("a"), []byte("b")}},
		)
		objectdbtest.Commit(ctx, t, db, 7,
			objectdbtest.Object{OID: 1, State: nil},
		)

		require.Equal(t, map[objectdb.OID]objectdb.TID{0: 5, 1: 7}, objectdbtest.Current(ctx, t, db))

		if db.KeepHistory() {
			require.Equal(t, []objectdbtest.Revision{
				{OID: 0, TID: 5},
				{OID: 1, TID: 5},
				{OID: 1, TID: 7, PrevTID: 5, Tombstone: true},
			}, objectdbtest.Revisions(ctx, t, db))
			require.Equal(t, []objectdbtest.Transaction{{TID: 5}, {TID: 7}}, objectdbtest.Transactions(ctx, t, db))
			require.Equal(t, 2, objectdbtest.Count(ctx, t, db, "blob_chunk"))
		} else {
			require.Equal(t, []objectdbtest.Revision{
				{OID: 0, TID: 5},
				{OID: 1, TID: 7, Tombstone: true},
			}, objectdbtest.Revisions(ctx, t, db))
			require.Equal(t, 0, objectdbtest.Count(ctx, t, db, "blob_chunk"))
		}
	})
}

func TestSessions(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		objectdbtest.Commit(ctx, t, db, 5, objectdbtest.Object{OID: 0, State: objectdbtest.State("root")})

		load, err := db.OpenForLoad(ctx)
		require.NoError(t, err)
		defer ctx.Check(load.Close)

		countStates := func() int {
			tx, err := load.Tx(ctx)
			require.NoError(t, err)
			var n int
			require.NoError(t, tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM object_state WHERE tid > ?`, 0).Scan(&n))
			return n
		}
		require.Equal(t, 1, countStates())

		store, err := db.OpenForStore(ctx)
		require.NoError(t, err)

		tx, err := store.Tx(ctx)
		require.NoError(t, err)
		_, err = tx.ExecContext(ctx, `INSERT INTO pack_state_tid (tid) VALUES (?)`, objectdb.TID(5))
		require.NoError(t, err)
		require.NoError(t, store.Commit())
		require.NoError(t, store.Close())

		objectdbtest.Commit(ctx, t, db, 6, objectdbtest.Object{OID: 1, State: objectdbtest.State("one")})

		// the snapshot does not move until restarted.
		require.Equal(t, 1, countStates())
		require.NoError(t, load.Restart(ctx))
		require.Equal(t, 2, countStates())
	})
}

func TestCommitLocker(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		store, err := db.OpenForStore(ctx)
		require.NoError(t, err)

		tx, err := store.Tx(ctx)
		require.NoError(t, err)

		locker := db.CommitLocker()
		require.NoError(t, locker.HoldCommitLock(ctx, tx))
		require.NoError(t, store.Commit())

		tx, err = store.Tx(ctx)
		require.NoError(t, err)
		require.NoError(t, locker.ReleaseCommitLock(ctx, tx))
		require.NoError(t, store.Commit())
		require.NoError(t, store.Close())

		// the lock can be taken again once released.
		err = db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
			timeout, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := locker.HoldCommitLock(timeout, tx); err != nil {
				return err
			}
			return locker.ReleaseCommitLock(ctx, tx)
		})
		require.NoError(t, err)
	})
}
