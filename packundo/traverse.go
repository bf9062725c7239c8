// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"context"
	"slices"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/packundo/treemark"
	"storj.io/relstore/private/tagsql"
)

// traverseGraph sets keep on every object reachable from the objects that
// are already kept. Edges and roots are read through a fresh snapshot,
// results are written through the cycle.
func (e *engine) traverseGraph(ctx context.Context, load *objectdb.Session, c *cycle) (err error) {
	defer mon.Task()(&ctx)(&err)

	e.log.Info("pre_pack: downloading pack_object and object_ref")

	if err := load.Restart(ctx); err != nil {
		return err
	}
	tx, err := load.Tx(ctx)
	if err != nil {
		return err
	}

	marker := treemark.NewMarker()

	edges := make([]treemark.Edge, 0, e.config.CursorFetchSize)
	err = e.scanPairs(ctx, tx, `
		SELECT object_ref.zoid, object_ref.to_zoid
		FROM object_ref
			INNER JOIN pack_object ON object_ref.zoid = pack_object.zoid
		WHERE object_ref.tid >= pack_object.keep_tid
		ORDER BY object_ref.zoid, object_ref.to_zoid
	`, func(from, to uint64) {
		edges = append(edges, treemark.Edge{From: objectdb.OID(from), To: objectdb.OID(to)})
		if len(edges) >= e.config.CursorFetchSize {
			marker.AddRefs(edges)
			edges = edges[:0]
		}
	})
	if err != nil {
		return err
	}
	marker.AddRefs(edges)

	roots := make([]objectdb.OID, 0, e.config.CursorFetchSize)
	err = e.scanIDs(ctx, tx, `
		SELECT zoid
		FROM pack_object
		WHERE keep = TRUE
	`, func(oid uint64) {
		roots = append(roots, objectdb.OID(oid))
		if len(roots) >= e.config.CursorFetchSize {
			marker.Mark(roots)
			roots = roots[:0]
		}
	})
	if err != nil {
		return err
	}
	marker.Mark(append(roots, objectdb.RootOID))
	marker.FreeRefs()

	reachable := marker.ReachableCount()
	e.observer.Reachable(reachable)
	e.log.Info("pre_pack: marking objects reachable", zap.Int("reachable", reachable))

	batch := make([]objectdb.OID, 0, c.visitBatch)
	for oid := range marker.Reachable() {
		batch = append(batch, oid)
		if len(batch) >= c.visitBatch {
			if err := c.stage(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := c.stage(ctx, batch); err != nil {
		return err
	}

	_, err = c.keepStaged(ctx)
	return err
}

// scanPairs calls fn for every row of a two column id query.
func (e *engine) scanPairs(ctx context.Context, q tagsql.ExecQueryer, query string, fn func(a, b uint64), args ...interface{}) (err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var a, b uint64
		if err := rows.Scan(&a, &b); err != nil {
			return Error.Wrap(err)
		}
		fn(a, b)
	}
	return Error.Wrap(rows.Err())
}

// scanIDs is scanPairs for single column queries.
func (e *engine) scanIDs(ctx context.Context, q tagsql.ExecQueryer, query string, fn func(id uint64), args ...interface{}) (err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return Error.Wrap(err)
		}
		fn(id)
	}
	return Error.Wrap(rows.Err())
}

// uniqueOIDs sorts oids and removes duplicates.
func uniqueOIDs(oids []objectdb.OID) []objectdb.OID {
	slices.Sort(oids)
	return slices.Compact(oids)
}
