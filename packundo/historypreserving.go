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

// HistoryPreserving packs stores that keep every revision. Packing removes
// revisions that were superseded at the pack tid and, with garbage
// collection, every revision of unreachable objects.
type HistoryPreserving struct {
	engine
}

// ChoosePackTransaction implements PackUndo.
func (hp *HistoryPreserving) ChoosePackTransaction(ctx context.Context, packPoint objectdb.TID) (tid objectdb.TID, ok bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = hp.db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT tid
			FROM "transaction"
			WHERE tid > 0
				AND tid <= ?
				AND packed = FALSE
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

// FindPackTID implements PackUndo. It returns zero when there is no plan.
func (hp *HistoryPreserving) FindPackTID(ctx context.Context) (tid objectdb.TID, err error) {
	defer mon.Task()(&ctx)(&err)

	err = hp.db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		tid, err = queryScalar[objectdb.TID](ctx, tx, `SELECT MAX(keep_tid) FROM pack_object`)
		return err
	})
	return tid, err
}

// FillObjectRefs implements PackUndo. Every transaction in the snapshot of
// load that was not analyzed yet is analyzed.
func (hp *HistoryPreserving) FillObjectRefs(ctx context.Context, load, store *objectdb.Session, getReferences ReferencesFunc) (err error) {
	defer mon.Task()(&ctx)(&err)
	return hp.fillObjectRefs(ctx, load, store, hp.historyPreservingRefs(getReferences))
}

// PrePack implements PackUndo.
func (hp *HistoryPreserving) PrePack(ctx context.Context, packTID objectdb.TID, getReferences ReferencesFunc) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer hp.phase("pre_pack")(&err)

	load, store, err := hp.openSessions(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeSessions(store, load)) }()

	c := hp.newCycle(store)

	if hp.config.GC {
		hp.log.Info("pre_pack: start with gc enabled", zap.Stringer("pack tid", packTID))
		err = hp.prePackWithGC(ctx, load, c, packTID, getReferences)
	} else {
		hp.log.Info("pre_pack: start without gc", zap.Stringer("pack tid", packTID))
		err = hp.populatePackObject(ctx, c, packTID, true)
	}
	if err != nil {
		hp.log.Error("pre_pack: failed", zap.Error(err))
		return err
	}

	hp.log.Info("pre_pack: enumerating states to pack")

	var removals []statement
	if hp.config.GC {
		removals = append(removals, statement{
			query: `
				INSERT INTO pack_state (tid, zoid)
				SELECT object_state.tid, object_state.zoid
				FROM object_state
					INNER JOIN pack_object ON object_state.zoid = pack_object.zoid
				WHERE pack_object.keep = FALSE
					AND object_state.tid > 0
					AND object_state.tid <= ?
			`,
			args: []interface{}{packTID},
		})
	} else {
		removals = append(removals, statement{
			query: `
				INSERT INTO pack_state (tid, zoid)
				SELECT object_state.tid, object_state.zoid
				FROM object_state
					INNER JOIN pack_object ON object_state.zoid = pack_object.zoid
				WHERE object_state.state IS NULL
					AND object_state.tid = pack_object.keep_tid
					AND object_state.tid <= ?
					AND NOT EXISTS (
						SELECT 1
						FROM object_state later
						WHERE later.zoid = object_state.zoid
							AND later.tid > object_state.tid
					)
			`,
			args: []interface{}{packTID},
		})
	}
	removals = append(removals, statement{
		query: `
			INSERT INTO pack_state (tid, zoid)
			SELECT object_state.tid, object_state.zoid
			FROM object_state
				INNER JOIN pack_object ON object_state.zoid = pack_object.zoid
			WHERE pack_object.keep = TRUE
				AND object_state.tid > 0
				AND object_state.tid != pack_object.keep_tid
				AND object_state.tid <= ?
		`,
		args: []interface{}{packTID},
	})

	states, err := c.summarize(ctx, removals...)
	if err != nil {
		hp.log.Error("pre_pack: failed", zap.Error(err))
		return err
	}
	if err := store.Commit(); err != nil {
		return err
	}

	hp.observer.Planned(int(states))
	hp.log.Info("pre_pack: will remove object states", zap.Int64("states", states))
	hp.log.Info("pre_pack: finished successfully")
	return nil
}

// populatePackObject lists every object with a revision at or before
// packTID together with its newest such revision.
func (hp *HistoryPreserving) populatePackObject(ctx context.Context, c *cycle, packTID objectdb.TID, keep bool) error {
	hp.log.Info("pre_pack: filling the pack_object table")

	if err := c.truncate(ctx, "pack_object", "temp_pack_visit"); err != nil {
		return err
	}

	keepValue := "FALSE"
	if keep {
		keepValue = "TRUE"
	}
	if _, err := c.exec(ctx, `
		INSERT INTO pack_object (zoid, keep, keep_tid)
		SELECT zoid, `+keepValue+`, MAX(tid)
		FROM object_state
		WHERE tid > 0
			AND tid <= ?
		GROUP BY zoid
	`, packTID); err != nil {
		return err
	}

	if _, err := c.exec(ctx, `UPDATE pack_object SET keep = TRUE WHERE zoid = 0`); err != nil {
		return err
	}
	return c.store.Commit()
}

func (hp *HistoryPreserving) prePackWithGC(ctx context.Context, load *objectdb.Session, c *cycle, packTID objectdb.TID, getReferences ReferencesFunc) error {
	if err := hp.FillObjectRefs(ctx, load, c.store, getReferences); err != nil {
		return err
	}

	if err := hp.populatePackObject(ctx, c, packTID, false); err != nil {
		return err
	}

	hp.log.Info("pre_pack: keeping objects modified after the pack time")
	if _, err := c.exec(ctx, `
		INSERT INTO temp_pack_visit (zoid, keep_tid)
		SELECT zoid, 0
		FROM current_object
		WHERE tid > ?
	`, packTID); err != nil {
		return err
	}
	if _, err := c.keepStaged(ctx); err != nil {
		return err
	}

	hp.log.Info("pre_pack: keeping objects referenced after the pack time")
	if _, err := c.exec(ctx, `
		INSERT INTO temp_pack_visit (zoid, keep_tid)
		SELECT DISTINCT to_zoid, 0
		FROM object_ref
		WHERE tid > ?
	`, packTID); err != nil {
		return err
	}
	if _, err := c.keepStaged(ctx); err != nil {
		return err
	}
	// the traversal reads its roots through the load session.
	if err := c.store.Commit(); err != nil {
		return err
	}

	if err := hp.traverseGraph(ctx, load, c); err != nil {
		return err
	}
	return c.store.Commit()
}

// packTransaction is one transaction of a history preserving plan.
type packTransaction struct {
	tid       objectdb.TID
	packed    bool
	removable bool
}

// Pack implements PackUndo.
func (hp *HistoryPreserving) Pack(ctx context.Context, packTID objectdb.TID, onPacked PackedFunc) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer hp.phase("pack")(&err)

	store, err := hp.db.OpenForStore(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeSessions(store)) }()

	if err := hp.pack(ctx, store, packTID, onPacked); err != nil {
		hp.log.Error("pack: failed", zap.Error(err))
		return errs.Combine(err, store.Rollback())
	}
	hp.log.Info("pack: finished successfully")
	return nil
}

func (hp *HistoryPreserving) pack(ctx context.Context, store *objectdb.Session, packTID objectdb.TID, onPacked PackedFunc) error {
	transactions, err := hp.listPackTransactions(ctx, store, packTID)
	if err != nil {
		return err
	}
	hp.log.Info("pack: will pack transactions", zap.Int("transactions", len(transactions)), zap.Stringer("pack tid", packTID))

	progress := newProgress(hp.log, "pack: packed transactions", len(transactions))
	box := hp.newTimebox(hp.config.BatchTimeout)

	var removed []Revision
	var done, pending, statesRemoved int
	flush := func() error {
		if err := store.Commit(); err != nil {
			return err
		}
		notify(onPacked, removed)
		hp.observer.StatesRemoved(len(removed))
		hp.observer.TransactionsPacked(pending)
		mon.Counter("pack_states_removed").Inc(int64(len(removed)))
		statesRemoved += len(removed)
		removed, pending = removed[:0], 0
		return nil
	}

	for _, t := range transactions {
		removed, err = hp.packTransaction(ctx, store, packTID, t, removed)
		if err != nil {
			return err
		}
		done++
		pending++

		if box.expired() {
			if err := flush(); err != nil {
				return err
			}
			progress.report(done, zap.Int("states removed", statesRemoved))
			box.reset()
		}
	}
	if err := flush(); err != nil {
		return err
	}

	return hp.packCleanup(ctx, store)
}

// listPackTransactions lists the transactions at or before packTID that are
// not packed yet or have states to remove.
func (hp *HistoryPreserving) listPackTransactions(ctx context.Context, store *objectdb.Session, packTID objectdb.TID) (_ []packTransaction, err error) {
	tx, err := store.Tx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT
			tx.tid,
			CASE WHEN tx.packed = TRUE THEN 1 ELSE 0 END,
			CASE WHEN pack_state_tid.tid IS NOT NULL THEN 1 ELSE 0 END
		FROM "transaction" tx
			LEFT OUTER JOIN pack_state_tid ON tx.tid = pack_state_tid.tid
		WHERE tx.tid > 0
			AND tx.tid <= ?
			AND (tx.packed = FALSE OR pack_state_tid.tid IS NOT NULL)
		ORDER BY tx.tid
	`, packTID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var transactions []packTransaction
	for rows.Next() {
		var t packTransaction
		var packed, removable int
		if err := rows.Scan(&t.tid, &packed, &removable); err != nil {
			return nil, Error.Wrap(err)
		}
		t.packed, t.removable = packed != 0, removable != 0
		transactions = append(transactions, t)
	}
	return transactions, Error.Wrap(rows.Err())
}

// packTransaction removes the planned states of one transaction and marks it
// packed. Removed revisions are appended to removed.
func (hp *HistoryPreserving) packTransaction(ctx context.Context, store *objectdb.Session, packTID objectdb.TID, t packTransaction, removed []Revision) (_ []Revision, err error) {
	tx, err := store.Tx(ctx)
	if err != nil {
		return removed, err
	}

	if t.removable {
		for _, query := range []string{
			`DELETE FROM current_object
			WHERE tid = ?
				AND zoid IN (SELECT zoid FROM pack_state WHERE tid = ?)`,
			`DELETE FROM blob_chunk
			WHERE tid = ?
				AND zoid IN (SELECT zoid FROM pack_state WHERE tid = ?)`,
		} {
			if _, err := tx.ExecContext(ctx, query, t.tid, t.tid); err != nil {
				return removed, Error.Wrap(err)
			}
		}

		oids, err := collectIDs[objectdb.OID](ctx, tx, `
			DELETE FROM object_state
			WHERE tid = ?
				AND zoid IN (SELECT zoid FROM pack_state WHERE tid = ?)
			RETURNING zoid
		`, t.tid, t.tid)
		if err != nil {
			return removed, err
		}
		for _, oid := range oids {
			removed = append(removed, Revision{OID: oid, TID: t.tid})
		}

		// Revisions that pointed at a removed revision no longer have one.
		if _, err := tx.ExecContext(ctx, `
			UPDATE object_state
			SET prev_tid = 0
			WHERE prev_tid = ?
				AND tid <= ?
		`, t.tid, packTID); err != nil {
			return removed, Error.Wrap(err)
		}
	}

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM object_state WHERE tid = ? LIMIT 1`, t.tid).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return removed, Error.Wrap(err)
	}
	empty := errors.Is(err, sql.ErrNoRows)

	if _, err := tx.ExecContext(ctx, `
		UPDATE "transaction"
		SET packed = TRUE, is_empty = ?
		WHERE tid = ?
	`, empty, t.tid); err != nil {
		return removed, Error.Wrap(err)
	}

	hp.log.Debug("pack: packed transaction",
		zap.Stringer("tid", t.tid),
		zap.Bool("was packed", t.packed),
		zap.Bool("empty", empty))
	return removed, nil
}

// packCleanup removes the edges and rows of empty transactions and clears
// the plan.
func (hp *HistoryPreserving) packCleanup(ctx context.Context, store *objectdb.Session) error {
	hp.log.Info("pack: cleaning up")

	c := hp.newCycle(store)
	for _, table := range []string{"object_refs_added", "object_ref"} {
		if _, err := c.exec(ctx, `
			DELETE FROM `+table+`
			WHERE tid IN (
				SELECT tid
				FROM "transaction"
				WHERE is_empty = TRUE
			)
		`); err != nil {
			return err
		}
	}
	if err := store.Commit(); err != nil {
		return err
	}

	var total int64
	for {
		deleted, err := hp.deleteEmptyTransactions(ctx, store)
		if err != nil {
			return err
		}
		total += deleted
		if deleted < int64(hp.config.EmptyTransactionBatchSize) {
			break
		}
	}
	hp.observer.EmptyTransactionsDeleted(int(total))
	hp.log.Info("pack: removed empty transactions", zap.Int64("transactions", total))

	if err := c.finish(ctx); err != nil {
		return err
	}
	return store.Commit()
}

// deleteEmptyTransactions deletes one batch of packed empty transactions
// while holding the commit lock.
func (hp *HistoryPreserving) deleteEmptyTransactions(ctx context.Context, store *objectdb.Session) (deleted int64, err error) {
	tx, err := store.Tx(ctx)
	if err != nil {
		return 0, err
	}
	if err := hp.holdCommitLock(ctx, tx); err != nil {
		return 0, errs.Combine(err, store.Rollback())
	}
	defer func() { err = errs.Combine(err, hp.releaseCommitLock(ctx, store)) }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM "transaction"
		WHERE tid IN (
			SELECT tid
			FROM "transaction"
			WHERE packed = TRUE
				AND is_empty = TRUE
			ORDER BY tid
			LIMIT ?
		)
	`, hp.config.EmptyTransactionBatchSize)
	if err != nil {
		return 0, errs.Combine(Error.Wrap(err), store.Rollback())
	}
	deleted, err = result.RowsAffected()
	if err != nil {
		return 0, errs.Combine(Error.Wrap(err), store.Rollback())
	}
	return deleted, store.Commit()
}

// DeleteObject implements PackUndo. The revision stays as a tombstone.
func (hp *HistoryPreserving) DeleteObject(ctx context.Context, tx tagsql.ExecQueryer, oid objectdb.OID, oldTID objectdb.TID) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := tx.ExecContext(ctx, `
		UPDATE object_state
		SET state = NULL, state_size = 0, md5 = ''
		WHERE zoid = ?
			AND tid = ?
	`, oid, oldTID)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	return affected, Error.Wrap(err)
}

// notify reports removed revisions to onPacked.
func notify(onPacked PackedFunc, removed []Revision) {
	if onPacked == nil {
		return
	}
	for _, rev := range removed {
		onPacked(rev.OID, rev.TID)
	}
}
