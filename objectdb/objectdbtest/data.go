// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectdbtest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/tagsql"
)

// Object is a revision written by Commit. A nil State writes a tombstone.
type Object struct {
	OID   objectdb.OID
	State []byte
	Blob  [][]byte
}

// State returns a JSON encoded state that references refs.
func State(name string, refs ...objectdb.OID) []byte {
	type ref struct {
		OID uint64 `json:"$ref"`
	}
	doc := struct {
		Name string `json:"name"`
		Refs []ref  `json:"refs"`
	}{Name: name, Refs: []ref{}}
	for _, oid := range refs {
		doc.Refs = append(doc.Refs, ref{OID: uint64(oid)})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// Digest returns the digest stored next to state.
func Digest(state []byte) interface{} {
	if state == nil {
		return nil
	}
	sum := md5.Sum(state)
	return hex.EncodeToString(sum[:])
}

func nullable(data []byte) interface{} {
	if data == nil {
		return nil
	}
	return data
}

// Commit writes objects as transaction tid. The previous revision of every
// object is linked through prev_tid.
func Commit(ctx context.Context, t testing.TB, db *objectdb.DB, tid objectdb.TID, objects ...Object) {
	t.Helper()

	err := db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		if !db.KeepHistory() {
			return commitHistoryFree(ctx, tx, tid, objects)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO "transaction" (tid, packed, is_empty, username, description, extension)
			VALUES (?, FALSE, ?, ?, ?, ?)
		`, tid, len(objects) == 0, []byte("test"), []byte("commit"), nil)
		if err != nil {
			return err
		}

		for _, object := range objects {
			var prev objectdb.TID
			err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(MAX(tid), 0) FROM current_object WHERE zoid = ?
			`, object.OID).Scan(&prev)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO object_state (zoid, tid, prev_tid, md5, state_size, state)
				VALUES (?, ?, ?, ?, ?, ?)
			`, object.OID, tid, prev, Digest(object.State), len(object.State), nullable(object.State))
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO current_object (zoid, tid) VALUES (?, ?)
				ON CONFLICT (zoid) DO UPDATE SET tid = excluded.tid
			`, object.OID, tid)
			if err != nil {
				return err
			}

			for i, chunk := range object.Blob {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO blob_chunk (zoid, tid, chunk_num, chunk) VALUES (?, ?, ?, ?)
				`, object.OID, tid, i, chunk)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func commitHistoryFree(ctx context.Context, tx tagsql.Tx, tid objectdb.TID, objects []Object) error {
	for _, object := range objects {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO object_state (zoid, tid, state_size, state) VALUES (?, ?, ?, ?)
			ON CONFLICT (zoid) DO UPDATE SET
				tid = excluded.tid, state_size = excluded.state_size, state = excluded.state
		`, object.OID, tid, len(object.State), nullable(object.State))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM blob_chunk WHERE zoid = ?`, object.OID)
		if err != nil {
			return err
		}
		for i, chunk := range object.Blob {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO blob_chunk (zoid, chunk_num, tid, chunk) VALUES (?, ?, ?, ?)
			`, object.OID, i, tid, chunk)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Revision is a row of object_state.
type Revision struct {
	OID       objectdb.OID
	TID       objectdb.TID
	PrevTID   objectdb.TID
	Tombstone bool
}

// Revisions returns every stored revision ordered by oid and tid.
func Revisions(ctx context.Context, t testing.TB, db *objectdb.DB) []Revision {
	t.Helper()

	query := `SELECT zoid, tid, prev_tid, CASE WHEN state IS NULL THEN 1 ELSE 0 END FROM object_state ORDER BY zoid, tid`
	if !db.KeepHistory() {
		query = `SELECT zoid, tid, 0, CASE WHEN state IS NULL THEN 1 ELSE 0 END FROM object_state ORDER BY zoid, tid`
	}

	var revisions []Revision
	queryRows(ctx, t, db, query, nil, func(rows tagsql.Rows) error {
		var r Revision
		var tombstone int
		if err := rows.Scan(&r.OID, &r.TID, &r.PrevTID, &tombstone); err != nil {
			return err
		}
		r.Tombstone = tombstone != 0
		revisions = append(revisions, r)
		return nil
	})
	return revisions
}

// RevisionTIDs returns the stored revisions grouped by object.
func RevisionTIDs(ctx context.Context, t testing.TB, db *objectdb.DB) map[objectdb.OID][]objectdb.TID {
	t.Helper()

	tids := map[objectdb.OID][]objectdb.TID{}
	for _, r := range Revisions(ctx, t, db) {
		tids[r.OID] = append(tids[r.OID], r.TID)
	}
	return tids
}

// Current returns the current revision of every object.
func Current(ctx context.Context, t testing.TB, db *objectdb.DB) map[objectdb.OID]objectdb.TID {
	t.Helper()

	query := `SELECT zoid, tid FROM current_object`
	if !db.KeepHistory() {
		query = `SELECT zoid, tid FROM object_state`
	}

	current := map[objectdb.OID]objectdb.TID{}
	queryRows(ctx, t, db, query, nil, func(rows tagsql.Rows) error {
		var oid objectdb.OID
		var tid objectdb.TID
		if err := rows.Scan(&oid, &tid); err != nil {
			return err
		}
		current[oid] = tid
		return nil
	})
	return current
}

// Transaction is a row of the transaction table.
type Transaction struct {
	TID     objectdb.TID
	Packed  bool
	IsEmpty bool
}

// Transactions returns the transaction rows ordered by tid.
func Transactions(ctx context.Context, t testing.TB, db *objectdb.DB) []Transaction {
	t.Helper()

	var txs []Transaction
	queryRows(ctx, t, db, `SELECT tid, packed, is_empty FROM "transaction" ORDER BY tid`, nil, func(rows tagsql.Rows) error {
		var tx Transaction
		if err := rows.Scan(&tx.TID, &tx.Packed, &tx.IsEmpty); err != nil {
			return err
		}
		txs = append(txs, tx)
		return nil
	})
	return txs
}

// PackObject is a row of pack_object.
type PackObject struct {
	Keep    bool
	KeepTID objectdb.TID
}

// PackObjects returns the current pack plan.
func PackObjects(ctx context.Context, t testing.TB, db *objectdb.DB) map[objectdb.OID]PackObject {
	t.Helper()

	plan := map[objectdb.OID]PackObject{}
	queryRows(ctx, t, db, `SELECT zoid, keep, keep_tid FROM pack_object`, nil, func(rows tagsql.Rows) error {
		var oid objectdb.OID
		var p PackObject
		if err := rows.Scan(&oid, &p.Keep, &p.KeepTID); err != nil {
			return err
		}
		plan[oid] = p
		return nil
	})
	return plan
}

// Ref is a row of object_ref.
type Ref struct {
	OID objectdb.OID
	TID objectdb.TID
	To  objectdb.OID
}

// Refs returns the stored reference edges ordered by tid, oid and target.
func Refs(ctx context.Context, t testing.TB, db *objectdb.DB) []Ref {
	t.Helper()

	var refs []Ref
	queryRows(ctx, t, db, `SELECT zoid, tid, to_zoid FROM object_ref ORDER BY tid, zoid, to_zoid`, nil, func(rows tagsql.Rows) error {
		var r Ref
		if err := rows.Scan(&r.OID, &r.TID, &r.To); err != nil {
			return err
		}
		refs = append(refs, r)
		return nil
	})
	return refs
}

// Count returns the number of rows in table.
func Count(ctx context.Context, t testing.TB, db *objectdb.DB, table string) int {
	t.Helper()

	var count int
	err := db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	})
	require.NoError(t, err)
	return count
}

// Exec runs a statement, failing the test on error.
func Exec(ctx context.Context, t testing.TB, db *objectdb.DB, query string, args ...interface{}) {
	t.Helper()

	err := db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	require.NoError(t, err)
}

func queryRows(ctx context.Context, t testing.TB, db *objectdb.DB, query string, args []interface{}, scan func(tagsql.Rows) error) {
	t.Helper()

	err := db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) (err error) {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	require.NoError(t, err)
}
