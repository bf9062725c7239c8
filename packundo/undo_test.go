// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/relstore/objectdb"
	"storj.io/relstore/objectdb/objectdbtest"
	"storj.io/relstore/packundo"
	"storj.io/relstore/packundo/refs"
	"storj.io/relstore/private/tagsql"
)

// commitUndoable writes three transactions. Transaction 2 changes object 1
// and transaction 3 creates object 2.
func commitUndoable(ctx context.Context, t *testing.T, db *objectdb.DB) {
	objectdbtest.Commit(ctx, t, db, 1,
		objectdbtest.Object{OID: 0, State: objectdbtest.State("root", 1)},
		objectdbtest.Object{OID: 1, State: objectdbtest.State("one-a"), Blob: [][]byte{[]byte("a")}},
	)
	objectdbtest.Commit(ctx, t, db, 2,
		objectdbtest.Object{OID: 1, State: objectdbtest.State("one-b")},
	)
	objectdbtest.Commit(ctx, t, db, 3,
		objectdbtest.Object{OID: 0, State: objectdbtest.State("root", 1, 2)},
		objectdbtest.Object{OID: 2, State: objectdbtest.State("two")},
	)
}

// digests returns the md5 column of every revision at tid.
func digests(ctx context.Context, t *testing.T, db *objectdb.DB, tid objectdb.TID) map[objectdb.OID]interface{} {
	found := map[objectdb.OID]interface{}{}
	err := db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) (err error) {
		rows, err := tx.QueryContext(ctx, `SELECT zoid, md5 FROM object_state WHERE tid = ?`, tid)
		if err != nil {
			return err
		}
		defer func() { require.NoError(t, rows.Close()) }()
		for rows.Next() {
			var oid objectdb.OID
			var digest *string
			if err := rows.Scan(&oid, &digest); err != nil {
				return err
			}
			if digest == nil {
				found[oid] = nil
			} else {
				found[oid] = *digest
			}
		}
		return rows.Err()
	})
	require.NoError(t, err)
	return found
}

func verify(ctx context.Context, db *objectdb.DB, pu packundo.PackUndo, tid objectdb.TID) error {
	return db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		return pu.VerifyUndoable(ctx, tx, tid)
	})
}

func TestVerifyUndoable(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		commitUndoable(ctx, t, db)
		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{}, packundo.Options{})

		require.NoError(t, verify(ctx, db, pu, 2))
		require.NoError(t, verify(ctx, db, pu, 3))

		err := verify(ctx, db, pu, 1)
		require.True(t, packundo.ErrUndoRejected.Has(err))
		require.Contains(t, err.Error(), "Some data were modified by a later transaction")

		err = verify(ctx, db, pu, 9)
		require.True(t, packundo.ErrUndoRejected.Has(err))
		require.Contains(t, err.Error(), "Transaction not found or packed")
	})
}

func TestVerifyUndoableRootCreation(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		objectdbtest.Commit(ctx, t, db, 1, objectdbtest.Object{OID: 0, State: objectdbtest.State("root")})
		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{}, packundo.Options{})

		err := verify(ctx, db, pu, 1)
		require.True(t, packundo.ErrUndoRejected.Has(err))
		require.Contains(t, err.Error(), "Can't undo the creation of the root object")
	})
}

func TestUndoTransaction(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		commitUndoable(ctx, t, db)
		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{}, packundo.Options{})

		self, copied, err := pu.UndoTransaction(ctx, 2, packundo.TransactionMeta{User: "admin", Description: "undo 2"})
		require.NoError(t, err)
		require.Greater(t, self, objectdb.TID(3))
		require.Equal(t, []packundo.Revision{{OID: 1, TID: 1}}, copied)

		require.Equal(t, map[objectdb.OID]objectdb.TID{0: 3, 1: self, 2: 3}, objectdbtest.Current(ctx, t, db))
		require.Equal(t, map[objectdb.OID]interface{}{1: objectdbtest.Digest(objectdbtest.State("one-a"))}, digests(ctx, t, db, self))
		require.Len(t, objectdbtest.Transactions(ctx, t, db), 4)
		// the blob of the restored revision is copied too.
		require.Equal(t, 2, objectdbtest.Count(ctx, t, db, "blob_chunk"))

		// the current revision of object 1 now differs from what 2 wrote.
		_, _, err = pu.UndoTransaction(ctx, 2, packundo.TransactionMeta{})
		require.True(t, packundo.ErrUndoRejected.Has(err))
		require.Len(t, objectdbtest.Transactions(ctx, t, db), 4)

		// undoing the creation of an object leaves a tombstone.
		next, copied, err := pu.UndoTransaction(ctx, 3, packundo.TransactionMeta{User: "admin"})
		require.NoError(t, err)
		require.Greater(t, next, self)
		require.Equal(t, []packundo.Revision{{OID: 0, TID: 1}, {OID: 2, TID: 0}}, copied)
		require.Equal(t, map[objectdb.OID]interface{}{
			0: objectdbtest.Digest(objectdbtest.State("root", 1)),
			2: nil,
		}, digests(ctx, t, db, next))

		var tombstone bool
		for _, rev := range objectdbtest.Revisions(ctx, t, db) {
			if rev.OID == 2 && rev.TID == next {
				tombstone = rev.Tombstone
				require.Equal(t, objectdb.TID(3), rev.PrevTID)
			}
		}
		require.True(t, tombstone)
	})
}

func TestUndoTwiceSupersedes(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		commitUndoable(ctx, t, db)
		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{}, packundo.Options{})

		const self = objectdb.TID(100)
		err := db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
			for range 2 {
				copied, err := pu.Undo(ctx, tx, 2, self)
				if err != nil {
					return err
				}
				require.Equal(t, []packundo.Revision{{OID: 1, TID: 1}}, copied)
			}
			return nil
		})
		require.NoError(t, err)

		var atSelf []objectdbtest.Revision
		for _, rev := range objectdbtest.Revisions(ctx, t, db) {
			if rev.TID == self {
				atSelf = append(atSelf, rev)
			}
		}
		require.Equal(t, []objectdbtest.Revision{{OID: 1, TID: self, PrevTID: 2}}, atSelf)
		require.Equal(t, 2, objectdbtest.Count(ctx, t, db, "blob_chunk"))
	})
}

func TestUndoPackedTransaction(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: true}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		commitUndoable(ctx, t, db)
		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{GC: true}, packundo.Options{})

		_, err := packundo.NewPacker(zaptest.NewLogger(t), pu, refs.JSON, nil).Run(ctx, packundo.PackOptions{PackPoint: 2})
		require.NoError(t, err)

		_, _, err = pu.UndoTransaction(ctx, 2, packundo.TransactionMeta{})
		require.True(t, packundo.ErrUndoRejected.Has(err))
		require.Contains(t, err.Error(), "Transaction not found or packed")
	})
}

func TestUndoHistoryFree(t *testing.T) {
	objectdbtest.Run(t, objectdb.Config{KeepHistory: false}, func(ctx *testcontext.Context, t *testing.T, db *objectdb.DB) {
		objectdbtest.Commit(ctx, t, db, 1, objectdbtest.Object{OID: 0, State: objectdbtest.State("root")})
		pu := packundo.New(zaptest.NewLogger(t), db, packundo.Config{}, packundo.Options{})

		err := verify(ctx, db, pu, 1)
		require.True(t, packundo.ErrUndoUnsupported.Has(err))

		_, _, err = pu.UndoTransaction(ctx, 1, packundo.TransactionMeta{})
		require.True(t, packundo.ErrUndoUnsupported.Has(err))
	})
}
