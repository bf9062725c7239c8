// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/tagsql"
)

// refsPlan describes how one layout analyzes references. A unit is a
// transaction when history is kept and an object otherwise.
type refsPlan struct {
	unit      string
	batchSize int
	// pending lists the units whose edges are missing or stale.
	pending string
	// read loads the states of units from the snapshot and extracts
	// their edges.
	read func(ctx context.Context, tx tagsql.ExecQueryer, units []uint64) (*refsBatch, error)
	// write replaces the stored edges and markers of the batch.
	write func(ctx context.Context, tx tagsql.ExecQueryer, batch *refsBatch) error
}

// refsBatch is the analysis result of consecutive units.
type refsBatch struct {
	units []uint64
	// revisions are the states that were read, including empty ones.
	revisions []Revision
	edges     []edge
}

// edge is a row of object_ref.
type edge struct {
	from objectdb.OID
	tid  objectdb.TID
	to   objectdb.OID
}

// oids returns the analyzed objects.
func (batch *refsBatch) oids() []objectdb.OID {
	oids := make([]objectdb.OID, len(batch.revisions))
	for i, rev := range batch.revisions {
		oids[i] = rev.OID
	}
	return oids
}

// extract appends the edges of one state to the batch. Empty states have no
// edges.
func (e *engine) extract(batch *refsBatch, getReferences ReferencesFunc, oid objectdb.OID, tid objectdb.TID, state []byte) error {
	batch.revisions = append(batch.revisions, Revision{OID: oid, TID: tid})
	if len(state) == 0 {
		return nil
	}

	targets, err := getReferences(state)
	if err != nil {
		e.log.Error("pre_pack: failed to extract references",
			zap.Stringer("oid", oid),
			zap.Stringer("tid", tid),
			zap.Int("state size", len(state)),
			zap.Error(err))
		return ErrExtraction.New("oid %v at tid %v: %w", oid, tid, err)
	}

	for _, to := range uniqueOIDs(targets) {
		batch.edges = append(batch.edges, edge{from: oid, tid: tid, to: to})
	}
	return nil
}

// fillObjectRefs runs a reader reading and analyzing batches from the load
// session and a writer storing them through the store session. Only the
// writer touches store. Progress is committed every RefsCommitInterval, a
// failed batch is rolled back.
func (e *engine) fillObjectRefs(ctx context.Context, load, store *objectdb.Session, plan refsPlan) (err error) {
	defer mon.Task()(&ctx)(&err)

	loadTx, err := load.Tx(ctx)
	if err != nil {
		return err
	}
	units, err := collectIDs[uint64](ctx, loadTx, plan.pending)
	if err != nil {
		return err
	}

	total := len(units)
	if e.hooks.OnFillRefsStart != nil {
		e.hooks.OnFillRefsStart(total)
	}
	if total == 0 {
		return nil
	}
	e.log.Info("pre_pack: analyzing references", zap.String("unit", plan.unit), zap.Int("total", total))

	batches := make(chan *refsBatch, 1)
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(batches)
		for start := 0; start < total; start += plan.batchSize {
			end := min(start+plan.batchSize, total)
			batch, err := plan.read(gctx, loadTx, units[start:end])
			if err != nil {
				return err
			}
			batch.units = units[start:end]

			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var done, refs int
	group.Go(func() error {
		commit := e.newTimebox(e.config.RefsCommitInterval)
		for batch := range batches {
			// the store transaction outlives the group, so it must not
			// be bound to gctx.
			tx, err := store.Tx(ctx)
			if err != nil {
				return err
			}
			if err := plan.write(ctx, tx, batch); err != nil {
				return err
			}

			done += len(batch.units)
			refs += len(batch.edges)
			if e.hooks.OnFillRefsBatch != nil {
				e.hooks.OnFillRefsBatch(batch.oids(), len(batch.edges))
			}
			e.observer.RefsAnalyzed(len(batch.units), len(batch.edges))
			mon.Counter("refs_units_analyzed").Inc(int64(len(batch.units)))

			if commit.expired() {
				if err := store.Commit(); err != nil {
					return err
				}
				commit.reset()
				e.log.Info("pre_pack: analyzed", zap.String("unit", plan.unit),
					zap.Int("done", done), zap.Int("total", total), zap.Int("references", refs))
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return errs.Combine(err, store.Rollback())
	}
	if err := store.Commit(); err != nil {
		return err
	}

	e.log.Info("pre_pack: references analyzed", zap.String("unit", plan.unit),
		zap.Int("total", total), zap.Int("references", refs))
	return nil
}

// historyPreservingRefs analyzes whole transactions that have no marker.
func (e *engine) historyPreservingRefs(getReferences ReferencesFunc) refsPlan {
	return refsPlan{
		unit:      "transactions",
		batchSize: 1,
		pending: `
			SELECT tx.tid
			FROM "transaction" tx
				LEFT OUTER JOIN object_refs_added ON tx.tid = object_refs_added.tid
			WHERE object_refs_added.tid IS NULL
			ORDER BY tx.tid
		`,
		read: func(ctx context.Context, tx tagsql.ExecQueryer, units []uint64) (_ *refsBatch, err error) {
			tid := objectdb.TID(units[0])

			rows, err := tx.QueryContext(ctx, `
				SELECT zoid, state
				FROM object_state
				WHERE tid = ?
				ORDER BY zoid
			`, tid)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

			batch := &refsBatch{}
			for rows.Next() {
				var oid objectdb.OID
				var state []byte
				if err := rows.Scan(&oid, &state); err != nil {
					return nil, Error.Wrap(err)
				}
				if err := e.extract(batch, getReferences, oid, tid, state); err != nil {
					return nil, err
				}
			}
			return batch, Error.Wrap(rows.Err())
		},
		write: func(ctx context.Context, tx tagsql.ExecQueryer, batch *refsBatch) error {
			tid := objectdb.TID(batch.units[0])

			for _, query := range []string{
				`DELETE FROM object_ref WHERE tid = ?`,
				`DELETE FROM object_refs_added WHERE tid = ?`,
			} {
				if _, err := tx.ExecContext(ctx, query, tid); err != nil {
					return Error.Wrap(err)
				}
			}

			values := make([]interface{}, 0, 3*len(batch.edges))
			for _, ref := range batch.edges {
				values = append(values, ref.from, ref.tid, ref.to)
			}
			if err := insertRows(ctx, tx, "object_ref", []string{"zoid", "tid", "to_zoid"}, values); err != nil {
				return err
			}

			_, err := tx.ExecContext(ctx, `INSERT INTO object_refs_added (tid) VALUES (?)`, tid)
			return Error.Wrap(err)
		},
	}
}

// historyFreeRefs analyzes pack candidates whose marker is missing or older
// than their current state.
func (e *engine) historyFreeRefs(getReferences ReferencesFunc) refsPlan {
	return refsPlan{
		unit:      "objects",
		batchSize: e.config.RefsBatchSize,
		pending: `
			SELECT pack_object.zoid
			FROM pack_object
				INNER JOIN object_state ON pack_object.zoid = object_state.zoid
				LEFT OUTER JOIN object_refs_added ON pack_object.zoid = object_refs_added.zoid
			WHERE object_refs_added.tid IS NULL
				OR object_refs_added.tid != object_state.tid
			ORDER BY pack_object.zoid
		`,
		read: func(ctx context.Context, tx tagsql.ExecQueryer, units []uint64) (_ *refsBatch, err error) {
			placeholders, args := idArgs(units)
			rows, err := tx.QueryContext(ctx, `
				SELECT zoid, tid, state
				FROM object_state
				WHERE zoid IN (`+placeholders+`)
				ORDER BY zoid
			`, args...)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

			batch := &refsBatch{}
			for rows.Next() {
				var oid objectdb.OID
				var tid objectdb.TID
				var state []byte
				if err := rows.Scan(&oid, &tid, &state); err != nil {
					return nil, Error.Wrap(err)
				}
				if err := e.extract(batch, getReferences, oid, tid, state); err != nil {
					return nil, err
				}
			}
			return batch, Error.Wrap(rows.Err())
		},
		write: func(ctx context.Context, tx tagsql.ExecQueryer, batch *refsBatch) error {
			if len(batch.revisions) == 0 {
				return nil
			}

			placeholders, args := idArgs(batch.oids())
			for _, table := range []string{"object_refs_added", "object_ref"} {
				_, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE zoid IN (`+placeholders+`)`, args...)
				if err != nil {
					return Error.Wrap(err)
				}
			}

			values := make([]interface{}, 0, 3*len(batch.edges))
			for _, ref := range batch.edges {
				values = append(values, ref.from, ref.to, ref.tid)
			}
			if err := insertRows(ctx, tx, "object_ref", []string{"zoid", "to_zoid", "tid"}, values); err != nil {
				return err
			}

			values = make([]interface{}, 0, 2*len(batch.revisions))
			for _, rev := range batch.revisions {
				values = append(values, rev.OID, rev.TID)
			}
			return insertRows(ctx, tx, "object_refs_added", []string{"zoid", "tid"}, values)
		},
	}
}
