// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/tagsql"
)

// TransactionMeta is the metadata stored with a new transaction.
type TransactionMeta struct {
	User        string
	Description string
	Extension   []byte
}

// VerifyUndoable implements PackUndo.
func (hp *HistoryPreserving) VerifyUndoable(ctx context.Context, tx tagsql.ExecQueryer, undoTID objectdb.TID) (err error) {
	defer mon.Task()(&ctx)(&err)

	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1
		FROM "transaction"
		WHERE tid = ?
			AND packed = FALSE
	`, undoTID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUndoRejected.New("Transaction not found or packed")
	}
	if err != nil {
		return Error.Wrap(err)
	}

	// The current revision must match the one written by undoTID, compared
	// by digest since a later transaction may have stored the same state.
	var oid objectdb.OID
	err = tx.QueryRowContext(ctx, `
		SELECT prev_os.zoid
		FROM object_state prev_os
			INNER JOIN object_state cur_os ON prev_os.zoid = cur_os.zoid
			INNER JOIN current_object ON cur_os.zoid = current_object.zoid
				AND cur_os.tid = current_object.tid
		WHERE prev_os.tid = ?
			AND COALESCE(cur_os.md5, '') != COALESCE(prev_os.md5, '')
		ORDER BY prev_os.zoid
		LIMIT 1
	`, undoTID).Scan(&oid)
	switch {
	case err == nil:
		hp.log.Info("undo: object modified after transaction", zap.Stringer("oid", oid), zap.Stringer("tid", undoTID))
		return ErrUndoRejected.New("Some data were modified by a later transaction")
	case !errors.Is(err, sql.ErrNoRows):
		return Error.Wrap(err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT 1
		FROM object_state
		WHERE tid = ?
			AND zoid = 0
			AND prev_tid = 0
	`, undoTID).Scan(&one)
	switch {
	case err == nil:
		return ErrUndoRejected.New("Can't undo the creation of the root object")
	case !errors.Is(err, sql.ErrNoRows):
		return Error.Wrap(err)
	}
	return nil
}

// Undo implements PackUndo. Running it again with the same selfTID replaces
// what the earlier run copied.
func (hp *HistoryPreserving) Undo(ctx context.Context, tx tagsql.ExecQueryer, undoTID, selfTID objectdb.TID) (_ []Revision, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, step := range []statement{
		{query: `CREATE TEMPORARY TABLE IF NOT EXISTS temp_undo (
			zoid     BIGINT NOT NULL PRIMARY KEY,
			prev_tid BIGINT NOT NULL
		)`},
		{query: `DELETE FROM temp_undo`},
		{
			query: `
				INSERT INTO temp_undo (zoid, prev_tid)
				SELECT zoid, prev_tid
				FROM object_state
				WHERE tid = ?
				ORDER BY zoid
			`,
			args: []interface{}{undoTID},
		},
		// An earlier run may have moved current_object to selfTID already.
		{
			query: `
				UPDATE current_object
				SET tid = (
					SELECT prev_tid
					FROM object_state
					WHERE zoid = current_object.zoid
						AND tid = ?
				)
				WHERE zoid IN (SELECT zoid FROM temp_undo)
					AND tid = ?
			`,
			args: []interface{}{selfTID, selfTID},
		},
		{
			query: `
				DELETE FROM blob_chunk
				WHERE zoid IN (SELECT zoid FROM temp_undo)
					AND tid = ?
			`,
			args: []interface{}{selfTID},
		},
		{
			query: `
				DELETE FROM object_state
				WHERE zoid IN (SELECT zoid FROM temp_undo)
					AND tid = ?
			`,
			args: []interface{}{selfTID},
		},
		// A previous tid of zero copies an empty state, which undoes the
		// creation of the object.
		{
			query: `
				INSERT INTO object_state (zoid, tid, prev_tid, md5, state_size, state)
				SELECT temp_undo.zoid, CAST(? AS BIGINT), current_object.tid,
					object_state.md5, COALESCE(object_state.state_size, 0), object_state.state
				FROM temp_undo
					INNER JOIN current_object ON temp_undo.zoid = current_object.zoid
					LEFT OUTER JOIN object_state ON object_state.zoid = temp_undo.zoid
						AND object_state.tid = temp_undo.prev_tid
				ORDER BY current_object.zoid
			`,
			args: []interface{}{selfTID},
		},
		{
			query: `
				INSERT INTO blob_chunk (zoid, tid, chunk_num, chunk)
				SELECT temp_undo.zoid, CAST(? AS BIGINT), blob_chunk.chunk_num, blob_chunk.chunk
				FROM temp_undo
					INNER JOIN blob_chunk ON blob_chunk.zoid = temp_undo.zoid
						AND blob_chunk.tid = temp_undo.prev_tid
			`,
			args: []interface{}{selfTID},
		},
	} {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	var copied []Revision
	err = hp.scanPairs(ctx, tx, `SELECT zoid, prev_tid FROM temp_undo ORDER BY zoid`, func(oid, prev uint64) {
		copied = append(copied, Revision{OID: objectdb.OID(oid), TID: objectdb.TID(prev)})
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE temp_undo`); err != nil {
		return nil, Error.Wrap(err)
	}
	return copied, nil
}

// UndoTransaction implements PackUndo. The new transaction is written while
// holding the commit lock.
func (hp *HistoryPreserving) UndoTransaction(ctx context.Context, undoTID objectdb.TID, meta TransactionMeta) (selfTID objectdb.TID, copied []Revision, err error) {
	defer mon.Task()(&ctx)(&err)

	store, err := hp.db.OpenForStore(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer func() { err = errs.Combine(err, closeSessions(store)) }()

	tx, err := store.Tx(ctx)
	if err != nil {
		return 0, nil, err
	}
	if err := hp.holdCommitLock(ctx, tx); err != nil {
		return 0, nil, errs.Combine(err, store.Rollback())
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, store.Rollback())
		}
		err = errs.Combine(err, hp.releaseCommitLock(ctx, store))
	}()

	last, err := queryScalar[objectdb.TID](ctx, tx, `SELECT MAX(tid) FROM "transaction"`)
	if err != nil {
		return 0, nil, err
	}
	selfTID = last.Next(hp.nowFn())

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO "transaction" (tid, packed, is_empty, username, description, extension)
		VALUES (?, FALSE, FALSE, ?, ?, ?)
	`, selfTID, []byte(meta.User), []byte(meta.Description), meta.Extension); err != nil {
		return 0, nil, Error.Wrap(err)
	}

	if err := hp.VerifyUndoable(ctx, tx, undoTID); err != nil {
		return 0, nil, err
	}
	copied, err = hp.Undo(ctx, tx, undoTID, selfTID)
	if err != nil {
		return 0, nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE current_object
		SET tid = ?
		WHERE zoid IN (
			SELECT zoid
			FROM object_state
			WHERE tid = ?
		)
	`, selfTID, selfTID); err != nil {
		return 0, nil, Error.Wrap(err)
	}

	if err := store.Commit(); err != nil {
		return 0, nil, err
	}
	hp.log.Info("undo: transaction undone",
		zap.Stringer("undone", undoTID),
		zap.Stringer("tid", selfTID),
		zap.Int("objects", len(copied)))
	return selfTID, copied, nil
}
