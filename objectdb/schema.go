// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectdb

import (
	"strings"

	"storj.io/relstore/private/dbutil"
	"storj.io/relstore/private/migrate"
)

// scratchTables are the tables owned by a single pack cycle.
const scratchTables = `
CREATE TABLE pack_object (
	zoid     BIGINT NOT NULL PRIMARY KEY,
	keep     BOOLEAN NOT NULL,
	keep_tid BIGINT NOT NULL
);
CREATE INDEX pack_object_keep_tid ON pack_object (keep_tid);
CREATE INDEX pack_object_keep_zoid ON pack_object (keep, zoid);

CREATE TABLE pack_state (
	tid  BIGINT NOT NULL,
	zoid BIGINT NOT NULL,
	PRIMARY KEY (tid, zoid)
);

CREATE TABLE pack_state_tid (
	tid BIGINT NOT NULL PRIMARY KEY
);

CREATE TABLE temp_pack_visit (
	zoid     BIGINT NOT NULL PRIMARY KEY,
	keep_tid BIGINT NOT NULL
);
`

const historyPreservingSchema = `
CREATE TABLE "transaction" (
	tid         BIGINT NOT NULL PRIMARY KEY,
	packed      BOOLEAN NOT NULL DEFAULT FALSE,
	is_empty    BOOLEAN NOT NULL DEFAULT FALSE,
	username    BYTEA NOT NULL,
	description BYTEA NOT NULL,
	extension   BYTEA
);

CREATE TABLE object_state (
	zoid       BIGINT NOT NULL,
	tid        BIGINT NOT NULL CHECK (tid > 0),
	prev_tid   BIGINT NOT NULL,
	md5        CHAR(32),
	state_size BIGINT NOT NULL CHECK (state_size >= 0),
	state      BYTEA,
	PRIMARY KEY (zoid, tid)
);
CREATE INDEX object_state_tid ON object_state (tid);
CREATE INDEX object_state_prev_tid ON object_state (prev_tid);

CREATE TABLE current_object (
	zoid BIGINT NOT NULL PRIMARY KEY,
	tid  BIGINT NOT NULL
);
CREATE INDEX current_object_tid ON current_object (tid);

CREATE TABLE blob_chunk (
	zoid      BIGINT NOT NULL,
	tid       BIGINT NOT NULL,
	chunk_num BIGINT NOT NULL,
	chunk     BYTEA NOT NULL,
	PRIMARY KEY (zoid, tid, chunk_num)
);
CREATE INDEX blob_chunk_tid ON blob_chunk (tid);

CREATE TABLE object_ref (
	zoid    BIGINT NOT NULL,
	tid     BIGINT NOT NULL,
	to_zoid BIGINT NOT NULL,
	PRIMARY KEY (tid, zoid, to_zoid)
);

CREATE TABLE object_refs_added (
	tid BIGINT NOT NULL PRIMARY KEY
);
`

const historyFreeSchema = `
CREATE TABLE object_state (
	zoid       BIGINT NOT NULL PRIMARY KEY,
	tid        BIGINT NOT NULL CHECK (tid > 0),
	state_size BIGINT NOT NULL CHECK (state_size >= 0),
	state      BYTEA
);
CREATE INDEX object_state_tid ON object_state (tid);

CREATE TABLE blob_chunk (
	zoid      BIGINT NOT NULL,
	chunk_num BIGINT NOT NULL,
	tid       BIGINT NOT NULL,
	chunk     BYTEA NOT NULL,
	PRIMARY KEY (zoid, chunk_num)
);

CREATE TABLE object_ref (
	zoid    BIGINT NOT NULL,
	to_zoid BIGINT NOT NULL,
	tid     BIGINT NOT NULL,
	PRIMARY KEY (zoid, to_zoid)
);

CREATE TABLE object_refs_added (
	zoid BIGINT NOT NULL PRIMARY KEY,
	tid  BIGINT NOT NULL
);
`

// statements splits a schema into single statements and adjusts the column
// types for the implementation.
func statements(impl dbutil.Implementation, schema string) migrate.SQL {
	if impl == dbutil.SQLite3 {
		schema = strings.ReplaceAll(schema, "BYTEA", "BLOB")
	}

	var stmts migrate.SQL
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// Migration returns the steps that create the object tables.
func (db *DB) Migration() *migrate.Migration {
	schema := historyFreeSchema
	if db.config.KeepHistory {
		schema = historyPreservingSchema
	}

	return &migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				DB:          db.write,
				Impl:        db.impl,
				Description: "Initial setup",
				Version:     0,
				Action:      statements(db.impl, schema),
			},
			{
				DB:          db.write,
				Impl:        db.impl,
				Description: "Add pack scratch tables",
				Version:     1,
				Action:      statements(db.impl, scratchTables),
			},
		},
	}
}
