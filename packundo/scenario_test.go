// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/relstore/objectdb"
	"storj.io/relstore/objectdb/objectdbtest"
	"storj.io/relstore/packundo"
	"storj.io/relstore/packundo/refs"
)

func TestReachableChainIsKept(t *testing.T) {
	objectdbtest.RunBoth(t, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		objectdbtest.Commit(ctx, t, db, 5,
			objectdbtest.Object{OID: 2, State: objectdbtest.State("two")},
		)
		objectdbtest.Commit(ctx, t, db, 10,
			objectdbtest.Object{OID: 0, State: objectdbtest.State("root", 1)},
			objectdbtest.Object{OID: 1, State: objectdbtest.State("one", 2)},
		)

		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{GC: true}, packundo.Options{})
		packed := &collector{}
		packer := packundo.NewPacker(zaptest.NewLogger(t), pu, refs.JSON, packed.packed)

		_, err := packer.Run(ctx, packundo.PackOptions{PackPoint: 10, PrePackOnly: true})
		require.NoError(t, err)
		require.Equal(t, map[objectdb.OID]objectdbtest.PackObject{
			0: {Keep: true, KeepTID: 10},
			1: {Keep: true, KeepTID: 10},
			2: {Keep: true, KeepTID: 5},
		}, objectdbtest.PackObjects(ctx, t, db))

		_, err = packer.Run(ctx, packundo.PackOptions{PackPoint: 10, SkipPrePack: true})
		require.NoError(t, err)

		require.Equal(t, map[objectdb.OID]objectdb.TID{0: 10, 1: 10, 2: 5}, objectdbtest.Current(ctx, t, db))
		require.Empty(t, packed.sorted())
		requireNoPlan(ctx, t, db)
	})
}

func TestUnreferencedObjectIsDiscarded(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: false}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		objectdbtest.Commit(ctx, t, db, 3,
			objectdbtest.Object{OID: 0, State: objectdbtest.State("root")},
			objectdbtest.Object{OID: 3, State: objectdbtest.State("three")},
		)

		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{GC: true}, packundo.Options{})
		packed := &collector{}
		_, err := packundo.NewPacker(zaptest.NewLogger(t), pu, refs.JSON, packed.packed).Run(ctx, packundo.PackOptions{PackPoint: 10})
		require.NoError(t, err)

		require.Equal(t, map[objectdb.OID]objectdb.TID{0: 3}, objectdbtest.Current(ctx, t, db))
		require.Equal(t, []packundo.Revision{{OID: 3, TID: 3}}, packed.sorted())
		requireNoPlan(ctx, t, db)
	})
}

func TestUndoRejectedAfterLaterChange(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		objectdbtest.Commit(ctx, t, db, 1,
			objectdbtest.Object{OID: 0, State: objectdbtest.State("root", 5, 6)},
		)
		objectdbtest.Commit(ctx, t, db, 7,
			objectdbtest.Object{OID: 5, State: objectdbtest.State("five-a")},
			objectdbtest.Object{OID: 6, State: objectdbtest.State("six-a")},
		)
		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{}, packundo.Options{})

		// storing the same content again does not block the undo.
		objectdbtest.Commit(ctx, t, db, 8,
			objectdbtest.Object{OID: 6, State: objectdbtest.State("six-a")},
		)
		require.NoError(t, verify(ctx, db, pu, 7))

		objectdbtest.Commit(ctx, t, db, 9,
			objectdbtest.Object{OID: 5, State: objectdbtest.State("five-b")},
		)
		err := verify(ctx, db, pu, 7)
		require.True(t, packundo.ErrUndoRejected.Has(err))
		require.Contains(t, err.Error(), "Some data were modified by a later transaction")
	})
}
