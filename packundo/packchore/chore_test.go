// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packchore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/relstore/objectdb"
	"storj.io/relstore/objectdb/objectdbtest"
	"storj.io/relstore/packundo"
	"storj.io/relstore/packundo/packchore"
	"storj.io/relstore/packundo/refs"
)

func TestChore(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		first := objectdb.TIDFromTime(start)
		orphaned := objectdb.TIDFromTime(start.Add(time.Hour))
		recent := objectdb.TIDFromTime(start.Add(10 * 24 * time.Hour))

		objectdbtest.Commit(ctx, t, db, first,
			objectdbtest.Object{OID: 0, State: objectdbtest.State("root", 1)},
			objectdbtest.Object{OID: 1, State: objectdbtest.State("one")},
		)
		objectdbtest.Commit(ctx, t, db, orphaned,
			objectdbtest.Object{OID: 2, State: objectdbtest.State("orphan")},
		)
		objectdbtest.Commit(ctx, t, db, recent,
			objectdbtest.Object{OID: 0, State: objectdbtest.State("root-b", 1)},
		)

		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{GC: true}, packundo.Options{})
		packer := packundo.NewPacker(zaptest.NewLogger(t), pu, refs.JSON, nil)
		chore := packchore.NewChore(zaptest.NewLogger(t), packchore.Config{
			Enabled:  true,
			Interval: time.Hour,
			KeepFor:  24 * time.Hour,
		}, packer)

		chore.TestingSetNow(func() time.Time { return start.Add(5 * 24 * time.Hour) })
		require.NoError(t, chore.RunOnce(ctx))

		require.Equal(t, map[objectdb.OID][]objectdb.TID{
			0: {first, recent},
			1: {first},
		}, objectdbtest.RevisionTIDs(ctx, t, db))
		require.Equal(t, []objectdbtest.Transaction{
			{TID: first, Packed: true},
			{TID: recent},
		}, objectdbtest.Transactions(ctx, t, db))

		// nothing new to pack.
		require.NoError(t, chore.RunOnce(ctx))
		require.Len(t, objectdbtest.Revisions(ctx, t, db), 3)
	})
}

func TestChoreDisabled(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	chore := packchore.NewChore(zaptest.NewLogger(t), packchore.Config{Enabled: false, Interval: time.Hour}, nil)

	require.NoError(t, chore.Run(ctx))
}
