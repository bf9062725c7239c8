// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectdb

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"

	"storj.io/relstore/private/dbutil"
	"storj.io/relstore/private/tagsql"
)

// Session is a connection pinned to one database session whose statements
// always run inside a transaction. The transaction is started on first use
// after Commit or Rollback. Statements use `?` placeholders.
type Session struct {
	impl     dbutil.Implementation
	conn     tagsql.Conn
	opts     *sql.TxOptions
	snapshot bool

	tx tagsql.Tx
}

// OpenForLoad opens the snapshot session. It reads through one repeatable
// transaction until Restart is called and never writes.
func (db *DB) OpenForLoad(ctx context.Context) (_ *Session, err error) {
	defer mon.Task()(&ctx)(&err)

	var opts *sql.TxOptions
	if db.impl != dbutil.SQLite3 {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}

	session, err := db.openSession(ctx, db.read, opts, true)
	if err != nil {
		return nil, err
	}
	if err := session.Restart(ctx); err != nil {
		return nil, errs.Combine(err, session.Close())
	}
	return session, nil
}

// OpenForStore opens a read committed session for writing. Callers commit
// often.
func (db *DB) OpenForStore(ctx context.Context) (_ *Session, err error) {
	defer mon.Task()(&ctx)(&err)

	var opts *sql.TxOptions
	if db.impl != dbutil.SQLite3 {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return db.openSession(ctx, db.write, opts, false)
}

func (db *DB) openSession(ctx context.Context, pool tagsql.DB, opts *sql.TxOptions, snapshot bool) (*Session, error) {
	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Session{
		impl:     db.impl,
		conn:     conn,
		opts:     opts,
		snapshot: snapshot,
	}, nil
}

// Implementation returns the database implementation of the session.
func (s *Session) Implementation() dbutil.Implementation { return s.impl }

// Tx returns the current transaction, starting one when needed.
func (s *Session) Tx(ctx context.Context) (tagsql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.conn.BeginTx(ctx, s.opts)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	s.tx = &reboundTx{Tx: tx, impl: s.impl}
	return s.tx, nil
}

// Commit commits the current transaction, if any.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return Error.Wrap(tx.Commit())
}

// Rollback rolls back the current transaction, if any.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return Error.Wrap(tx.Rollback())
}

// Restart ends the current transaction and starts a new one. For a snapshot
// session the new view is established before Restart returns.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Rollback(); err != nil {
		return err
	}
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	if !s.snapshot {
		return nil
	}

	// the view is taken by the first statement that reads the database. The
	// statement must not lock any table the store session truncates.
	pin := `SELECT 1`
	if s.impl == dbutil.SQLite3 {
		pin = `SELECT COUNT(*) FROM sqlite_master`
	}
	var n int
	return Error.Wrap(tx.QueryRowContext(ctx, pin).Scan(&n))
}

// Close rolls back any open transaction and releases the session.
func (s *Session) Close() error {
	return errs.Combine(s.Rollback(), Error.Wrap(s.conn.Close()))
}

// reboundTx rewrites placeholders for the implementation.
type reboundTx struct {
	tagsql.Tx
	impl dbutil.Implementation
}

func (tx *reboundTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, dbutil.Rebind(tx.impl, query), args...)
}

func (tx *reboundTx) QueryContext(ctx context.Context, query string, args ...interface{}) (tagsql.Rows, error) {
	return tx.Tx.QueryContext(ctx, dbutil.Rebind(tx.impl, query), args...)
}

func (tx *reboundTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, dbutil.Rebind(tx.impl, query), args...)
}
