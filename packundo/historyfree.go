// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/tagsql"
)

// HistoryFree packs stores that keep only the current revision. Packing is
// garbage collection of unreachable objects and tombstones, without it there
// is nothing to do.
type HistoryFree struct {
	engine
}

// ChoosePackTransaction implements PackUndo.
func (hf *HistoryFree) ChoosePackTransaction(ctx context.Context, packPoint objectdb.TID) (tid objectdb.TID, ok bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = hf.db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT tid
			FROM object_state
			WHERE tid > 0
				AND tid <= ?
			ORDER BY tid DESC
			LIMIT 1
		`, packPoint).Scan(&tid)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	return tid, true, nil
}

// FindPackTID implements PackUndo. The plan of a history free store does
// not depend on the pack tid so it is always zero.
func (hf *HistoryFree) FindPackTID(ctx context.Context) (objectdb.TID, error) {
	return 0, nil
}

// FillObjectRefs implements PackUndo. It analyzes the pack candidates whose
// edges are missing or stale in a fresh snapshot of load.
func (hf *HistoryFree) FillObjectRefs(ctx context.Context, load, store *objectdb.Session, getReferences ReferencesFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := load.Restart(ctx); err != nil {
		return err
	}
	return hf.fillObjectRefs(ctx, load, store, hf.historyFreeRefs(getReferences))
}

// PrePack implements PackUndo.
func (hf *HistoryFree) PrePack(ctx context.Context, packTID objectdb.TID, getReferences ReferencesFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !hf.config.GC {
		hf.log.Warn("pre_pack: garbage collection is disabled on a history free store, so doing nothing")
		return nil
	}
	defer hf.phase("pre_pack")(&err)

	load, store, err := hf.openSessions(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeSessions(store, load)) }()

	hf.log.Info("pre_pack: start", zap.Stringer("pack tid", packTID))
	if err := hf.prePack(ctx, load, store, packTID, getReferences); err != nil {
		hf.log.Error("pre_pack: failed", zap.Error(err))
		return err
	}
	hf.log.Info("pre_pack: finished successfully")
	return nil
}

func (hf *HistoryFree) prePack(ctx context.Context, load, store *objectdb.Session, packTID objectdb.TID, getReferences ReferencesFunc) error {
	c := hf.newCycle(store)

	hf.log.Info("pre_pack: filling the pack_object table")
	if err := c.truncate(ctx, "pack_object", "temp_pack_visit"); err != nil {
		return err
	}
	if _, err := c.exec(ctx, `
		INSERT INTO pack_object (zoid, keep, keep_tid)
		SELECT zoid, CASE WHEN tid > ? THEN TRUE ELSE FALSE END, tid
		FROM object_state
	`, packTID); err != nil {
		return err
	}
	if _, err := c.exec(ctx, `UPDATE pack_object SET keep = TRUE WHERE zoid = 0`); err != nil {
		return err
	}
	if err := store.Commit(); err != nil {
		return err
	}

	if err := hf.FillObjectRefs(ctx, load, store, getReferences); err != nil {
		return err
	}
	if err := hf.traverseGraph(ctx, load, c); err != nil {
		return err
	}

	hf.log.Info("pre_pack: enumerating objects to remove")
	states, err := c.summarize(ctx,
		statement{query: `
			INSERT INTO pack_state (tid, zoid)
			SELECT keep_tid, zoid
			FROM pack_object
			WHERE keep = FALSE
		`},
		statement{
			query: `
				INSERT INTO pack_state (tid, zoid)
				SELECT object_state.tid, object_state.zoid
				FROM object_state
					INNER JOIN pack_object ON object_state.zoid = pack_object.zoid
				WHERE pack_object.keep = TRUE
					AND object_state.tid = pack_object.keep_tid
					AND object_state.state IS NULL
					AND object_state.zoid != 0
					AND object_state.tid <= ?
			`,
			args: []interface{}{packTID},
		},
	)
	if err != nil {
		return err
	}
	if err := store.Commit(); err != nil {
		return err
	}

	hf.observer.Planned(int(states))
	hf.log.Info("pre_pack: will remove objects", zap.Int64("objects", states))
	return nil
}

// Pack implements PackUndo. It removes the planned (oid, tid) pairs, a state
// that was replaced after PrePack is left alone.
func (hf *HistoryFree) Pack(ctx context.Context, packTID objectdb.TID, onPacked PackedFunc) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer hf.phase("pack")(&err)

	store, err := hf.db.OpenForStore(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeSessions(store)) }()

	if err := hf.pack(ctx, store, onPacked); err != nil {
		hf.log.Error("pack: failed", zap.Error(err))
		return errs.Combine(err, store.Rollback())
	}
	hf.log.Info("pack: finished successfully")
	return nil
}

func (hf *HistoryFree) pack(ctx context.Context, store *objectdb.Session, onPacked PackedFunc) error {
	tx, err := store.Tx(ctx)
	if err != nil {
		return err
	}

	var planned []Revision
	err = hf.scanPairs(ctx, tx, `
		SELECT zoid, tid
		FROM pack_state
		ORDER BY zoid
	`, func(oid, tid uint64) {
		planned = append(planned, Revision{OID: objectdb.OID(oid), TID: objectdb.TID(tid)})
	})
	if err != nil {
		return err
	}
	hf.log.Info("pack: will remove objects", zap.Int("objects", len(planned)))

	progress := newProgress(hf.log, "pack: removed objects", len(planned))
	box := hf.newTimebox(hf.config.BatchTimeout)

	var removed []Revision
	var done int
	flush := func() error {
		if err := store.Commit(); err != nil {
			return err
		}
		notify(onPacked, removed)
		hf.observer.StatesRemoved(len(removed))
		mon.Counter("pack_states_removed").Inc(int64(len(removed)))
		removed = removed[:0]
		return nil
	}

	for start := 0; start < len(planned); start += hf.config.DeleteChunkSize {
		chunk := planned[start:min(start+hf.config.DeleteChunkSize, len(planned))]
		removed, err = hf.removeStates(ctx, store, chunk, removed)
		if err != nil {
			return err
		}
		done += len(chunk)

		if box.expired() {
			if err := flush(); err != nil {
				return err
			}
			progress.report(done)
			box.reset()
		}
	}
	if err := flush(); err != nil {
		return err
	}

	return hf.packCleanup(ctx, store)
}

// removeStates deletes the given revisions and appends what was actually
// deleted to removed.
func (hf *HistoryFree) removeStates(ctx context.Context, store *objectdb.Session, chunk, removed []Revision) (_ []Revision, err error) {
	tx, err := store.Tx(ctx)
	if err != nil {
		return removed, err
	}

	conditions := make([]string, len(chunk))
	args := make([]interface{}, 0, 2*len(chunk))
	for i, rev := range chunk {
		conditions[i] = "(zoid = ? AND tid = ?)"
		args = append(args, rev.OID, rev.TID)
	}
	where := strings.Join(conditions, " OR ")

	if _, err := tx.ExecContext(ctx, `DELETE FROM blob_chunk WHERE `+where, args...); err != nil {
		return removed, Error.Wrap(err)
	}

	err = hf.scanPairs(ctx, tx, `DELETE FROM object_state WHERE `+where+` RETURNING zoid, tid`,
		func(oid, tid uint64) {
			removed = append(removed, Revision{OID: objectdb.OID(oid), TID: objectdb.TID(tid)})
		}, args...)
	return removed, err
}

func (hf *HistoryFree) packCleanup(ctx context.Context, store *objectdb.Session) error {
	hf.log.Info("pack: cleaning up")

	c := hf.newCycle(store)
	for _, table := range []string{"object_refs_added", "object_ref"} {
		if _, err := c.exec(ctx, `
			DELETE FROM `+table+`
			WHERE zoid IN (
				SELECT zoid
				FROM pack_state
			)
		`); err != nil {
			return err
		}
	}
	if err := c.finish(ctx); err != nil {
		return err
	}
	return store.Commit()
}

// VerifyUndoable implements PackUndo.
func (hf *HistoryFree) VerifyUndoable(ctx context.Context, tx tagsql.ExecQueryer, undoTID objectdb.TID) error {
	return ErrUndoUnsupported.New("Undo is not supported by this storage")
}

// Undo implements PackUndo.
func (hf *HistoryFree) Undo(ctx context.Context, tx tagsql.ExecQueryer, undoTID, selfTID objectdb.TID) ([]Revision, error) {
	return nil, ErrUndoUnsupported.New("Undo is not supported by this storage")
}

// UndoTransaction implements PackUndo.
func (hf *HistoryFree) UndoTransaction(ctx context.Context, undoTID objectdb.TID, meta TransactionMeta) (objectdb.TID, []Revision, error) {
	return 0, nil, ErrUndoUnsupported.New("Undo is not supported by this storage")
}

// DeleteObject implements PackUndo.
func (hf *HistoryFree) DeleteObject(ctx context.Context, tx tagsql.ExecQueryer, oid objectdb.OID, oldTID objectdb.TID) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := tx.ExecContext(ctx, `DELETE FROM blob_chunk WHERE zoid = ? AND tid = ?`, oid, oldTID); err != nil {
		return 0, Error.Wrap(err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM object_state WHERE zoid = ? AND tid = ?`, oid, oldTID)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	return affected, Error.Wrap(err)
}
