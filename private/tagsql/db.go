// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package tagsql implements a thin layer over database/sql that keeps track
// of leaked rows and exposes only the context-aware methods.
package tagsql

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"
)

// Error is the default error class for tagsql.
var Error = errs.Class("tagsql")

// ExecQueryer is the subset of methods shared by DB, Conn and Tx.
type ExecQueryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB is an interface for *sql.DB-like databases.
type DB interface {
	ExecQueryer

	BeginTx(ctx context.Context, txOptions *sql.TxOptions) (Tx, error)
	Conn(ctx context.Context) (Conn, error)
	PingContext(ctx context.Context) error

	SetMaxIdleConns(n int)
	SetMaxOpenConns(n int)

	Close() error
}

// Open opens *sql.DB and wraps the implementation with tagging.
func Open(ctx context.Context, driverName, dataSourceName string) (DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	err = db.PingContext(ctx)
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), db.Close())
	}
	return Wrap(db), nil
}

// Wrap turns a *sql.DB into a DB-matching interface.
func Wrap(db *sql.DB) DB {
	return &sqlDB{db: db, tracker: rootTracker(1)}
}

// sqlDB implements DB.
type sqlDB struct {
	db      *sql.DB
	tracker *tracker
}

func (s *sqlDB) BeginTx(ctx context.Context, txOptions *sql.TxOptions) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, txOptions)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, tracker: s.tracker.child(1)}, nil
}

func (s *sqlDB) Conn(ctx context.Context) (Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: conn, tracker: s.tracker.child(1)}, nil
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return s.tracker.wrapRows(s.db.QueryContext(ctx, query, args...))
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlDB) SetMaxIdleConns(n int) { s.db.SetMaxIdleConns(n) }

func (s *sqlDB) SetMaxOpenConns(n int) { s.db.SetMaxOpenConns(n) }

func (s *sqlDB) Close() error {
	return errs.Combine(s.tracker.close(), s.db.Close())
}
