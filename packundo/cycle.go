// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"context"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/dbutil"
)

// scratchTables are owned by one pack cycle. They are created by the
// migration, filled by PrePack, consumed by Pack and emptied once Pack
// succeeds. An interrupted cycle leaves them in place so Pack can resume.
var scratchTables = []string{"pack_object", "pack_state", "pack_state_tid", "temp_pack_visit"}

// statement is a query with its arguments.
type statement struct {
	query string
	args  []interface{}
}

// cycle manipulates the scratch tables through the store session.
type cycle struct {
	impl       dbutil.Implementation
	store      *objectdb.Session
	visitBatch int
}

func (e *engine) newCycle(store *objectdb.Session) *cycle {
	return &cycle{
		impl:       e.impl(),
		store:      store,
		visitBatch: e.config.VisitBatchSize,
	}
}

// exec runs query in the current store transaction and returns the number
// of affected rows.
func (c *cycle) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tx, err := c.store.Tx(ctx)
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	return affected, Error.Wrap(err)
}

func (c *cycle) truncate(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := c.exec(ctx, dbutil.Truncate(c.impl, table)); err != nil {
			return err
		}
	}
	return nil
}

// stage adds oids to temp_pack_visit.
func (c *cycle) stage(ctx context.Context, oids []objectdb.OID) error {
	tx, err := c.store.Tx(ctx)
	if err != nil {
		return err
	}
	values := make([]interface{}, 0, 2*len(oids))
	for _, oid := range oids {
		values = append(values, oid, 0)
	}
	return insertRows(ctx, tx, "temp_pack_visit", []string{"zoid", "keep_tid"}, values)
}

// keepStaged sets keep on every staged object and empties the stage.
func (c *cycle) keepStaged(ctx context.Context) (int64, error) {
	kept, err := c.exec(ctx, `
		UPDATE pack_object
		SET keep = TRUE
		WHERE zoid IN (
			SELECT zoid
			FROM temp_pack_visit
		)
	`)
	if err != nil {
		return 0, err
	}
	return kept, c.truncate(ctx, "temp_pack_visit")
}

// summarize rebuilds pack_state from removals and pack_state_tid from
// pack_state. It returns the number of states to remove.
func (c *cycle) summarize(ctx context.Context, removals ...statement) (int64, error) {
	if err := c.truncate(ctx, "pack_state"); err != nil {
		return 0, err
	}

	var states int64
	for _, removal := range removals {
		n, err := c.exec(ctx, removal.query, removal.args...)
		if err != nil {
			return 0, err
		}
		states += n
	}

	if err := c.truncate(ctx, "pack_state_tid"); err != nil {
		return 0, err
	}
	_, err := c.exec(ctx, `
		INSERT INTO pack_state_tid (tid)
		SELECT DISTINCT tid
		FROM pack_state
	`)
	return states, err
}

// finish empties every scratch table.
func (c *cycle) finish(ctx context.Context) error {
	return c.truncate(ctx, scratchTables...)
}
