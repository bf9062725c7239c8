// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package tagsql

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"
)

// Tx is an interface for *sql.Tx-like transactions.
type Tx interface {
	ExecQueryer

	Commit() error
	Rollback() error
}

// sqlTx implements Tx and keeps track of rows that were left open.
type sqlTx struct {
	tx      *sql.Tx
	tracker *tracker
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return s.tracker.wrapRows(s.tx.QueryContext(ctx, query, args...))
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error {
	return errs.Combine(s.tracker.close(), s.tx.Commit())
}

func (s *sqlTx) Rollback() error {
	return errs.Combine(s.tracker.close(), s.tx.Rollback())
}
