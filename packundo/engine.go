// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/dbutil"
	"storj.io/relstore/private/tagsql"
)

// engine holds what both layouts share.
type engine struct {
	log      *zap.Logger
	db       *objectdb.DB
	config   Config
	hooks    Hooks
	observer Observer

	nowFn func() time.Time
}

func newEngine(log *zap.Logger, db *objectdb.DB, config Config, opts Options) engine {
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return engine{
		log:      log,
		db:       db,
		config:   config.withDefaults(),
		hooks:    opts.Hooks,
		observer: observer,
		nowFn:    time.Now,
	}
}

// KeepHistory implements PackUndo.
func (e *engine) KeepHistory() bool { return e.db.KeepHistory() }

func (e *engine) impl() dbutil.Implementation { return e.db.Implementation() }

// phase reports the duration and outcome of a phase to the observer.
func (e *engine) phase(name string) func(*error) {
	start := e.nowFn()
	return func(errp *error) {
		e.observer.PhaseDone(name, e.nowFn().Sub(start), *errp)
	}
}

// openSessions opens the snapshot and the store session of a phase.
func (e *engine) openSessions(ctx context.Context) (load, store *objectdb.Session, err error) {
	load, err = e.db.OpenForLoad(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, err = e.db.OpenForStore(ctx)
	if err != nil {
		return nil, nil, errs.Combine(err, load.Close())
	}
	return load, store, nil
}

// queryScalar runs query and returns its single row and column. Missing rows
// and NULL yield the zero value.
func queryScalar[T ~uint64](ctx context.Context, q tagsql.ExecQueryer, query string, args ...interface{}) (T, error) {
	var value *int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&value)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, Error.Wrap(err)
	}
	if value == nil {
		return 0, nil
	}
	return T(*value), nil
}

// collectIDs runs query and collects its single id column.
func collectIDs[T ~uint64](ctx context.Context, q tagsql.ExecQueryer, query string, args ...interface{}) (ids []T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var id T
		if err := rows.Scan(&id); err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, Error.Wrap(rows.Err())
}

// idArgs returns the placeholders and arguments of an IN list.
func idArgs[T ~uint64](ids []T) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return dbutil.Placeholders(len(ids)), args
}

// maxInsertRows bounds the rows of a multi row insert, both sqlite3 and
// postgres limit the number of bound parameters.
const maxInsertRows = 500

// insertRows inserts rows of width values each, flattened into values.
func insertRows(ctx context.Context, q tagsql.ExecQueryer, table string, columns []string, values []interface{}) error {
	width := len(columns)
	prefix := `INSERT INTO ` + table + ` (` + strings.Join(columns, ", ") + `) VALUES `

	for len(values) > 0 {
		n := min(len(values)/width, maxInsertRows)
		_, err := q.ExecContext(ctx, prefix+dbutil.ValuesList(n, width), values[:n*width]...)
		if err != nil {
			return Error.Wrap(err)
		}
		values = values[n*width:]
	}
	return nil
}

// timebox tells when a batch has run long enough to be committed.
type timebox struct {
	timeout time.Duration
	nowFn   func() time.Time
	start   time.Time
}

func (e *engine) newTimebox(timeout time.Duration) *timebox {
	return &timebox{timeout: timeout, nowFn: e.nowFn, start: e.nowFn()}
}

func (t *timebox) expired() bool { return t.nowFn().Sub(t.start) >= t.timeout }

func (t *timebox) reset() { t.start = t.nowFn() }

// progress logs in steps of at most a thousandth of total.
type progress struct {
	log   *zap.Logger
	msg   string
	total int
	step  int
	last  int
}

func newProgress(log *zap.Logger, msg string, total int) *progress {
	return &progress{log: log, msg: msg, total: total, step: max(total/1000, 1)}
}

func (p *progress) report(done int, fields ...zap.Field) {
	if done < p.last+p.step {
		return
	}
	percent := 100.0
	if p.total > 0 {
		percent = float64(done) / float64(p.total) * 100
	}
	p.log.Info(p.msg, append([]zap.Field{
		zap.Int("done", done),
		zap.Int("total", p.total),
		zap.Float64("percent", percent),
	}, fields...)...)
	p.last = done / p.step * p.step
}

// holdCommitLock takes the commit lock on the session of tx.
func (e *engine) holdCommitLock(ctx context.Context, tx tagsql.ExecQueryer) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.CommitLockTimeout)
	defer cancel()
	return e.db.CommitLocker().HoldCommitLock(ctx, tx)
}

// releaseCommitLock releases the commit lock held by store.
func (e *engine) releaseCommitLock(ctx context.Context, store *objectdb.Session) error {
	tx, err := store.Tx(ctx)
	if err != nil {
		return err
	}
	if err := e.db.CommitLocker().ReleaseCommitLock(ctx, tx); err != nil {
		return errs.Combine(err, store.Rollback())
	}
	return store.Commit()
}

// closeSessions rolls back whatever is in flight and releases the sessions.
func closeSessions(sessions ...*objectdb.Session) error {
	var group errs.Group
	for _, session := range sessions {
		if session != nil {
			group.Add(session.Close())
		}
	}
	return group.Err()
}
