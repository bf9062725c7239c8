// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package tagsql

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"
)

// Conn is an interface for *sql.Conn-like connections.
//
// A Conn pins a single database session, which is required for session
// level state such as advisory locks, temporary tables and long-lived
// snapshot transactions.
type Conn interface {
	ExecQueryer

	BeginTx(ctx context.Context, txOptions *sql.TxOptions) (Tx, error)
	PingContext(ctx context.Context) error

	Close() error
}

// sqlConn implements Conn.
type sqlConn struct {
	conn    *sql.Conn
	tracker *tracker
}

func (s *sqlConn) BeginTx(ctx context.Context, txOptions *sql.TxOptions) (Tx, error) {
	tx, err := s.conn.BeginTx(ctx, txOptions)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, tracker: s.tracker.child(1)}, nil
}

func (s *sqlConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

func (s *sqlConn) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return s.tracker.wrapRows(s.conn.QueryContext(ctx, query, args...))
}

func (s *sqlConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

func (s *sqlConn) PingContext(ctx context.Context) error { return s.conn.PingContext(ctx) }

func (s *sqlConn) Close() error {
	return errs.Combine(s.tracker.close(), s.conn.Close())
}
