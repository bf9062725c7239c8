// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package tagsql

import (
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Rows implements a wrapper for *sql.Rows.
type Rows interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	Scan(dest ...interface{}) error
}

// tracker keeps track of rows that have not been closed.
type tracker struct {
	parent *tracker
	caller string

	mu   sync.Mutex
	open map[*sqlRows]string
}

func rootTracker(skip int) *tracker {
	return &tracker{caller: callerOf(skip + 1), open: map[*sqlRows]string{}}
}

func (t *tracker) child(skip int) *tracker {
	return &tracker{parent: t, caller: callerOf(skip + 1), open: map[*sqlRows]string{}}
}

func (t *tracker) wrapRows(rows *sql.Rows, err error) (Rows, error) {
	if err != nil {
		return nil, err
	}
	r := &sqlRows{rows: rows, tracker: t}

	t.mu.Lock()
	t.open[r] = callerOf(2)
	t.mu.Unlock()
	return r, nil
}

func (t *tracker) release(r *sqlRows) {
	t.mu.Lock()
	delete(t.open, r)
	t.mu.Unlock()
}

// close returns an error describing every rows value that was left open.
func (t *tracker) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.open) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d rows left open (owner %s):", len(t.open), t.caller)
	for _, caller := range t.open {
		fmt.Fprintf(&b, "\n\t%s", caller)
	}
	return Error.New("%s", b.String())
}

func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// sqlRows implements Rows.
type sqlRows struct {
	rows    *sql.Rows
	tracker *tracker
	once    sync.Once
}

func (s *sqlRows) Close() error {
	s.once.Do(func() { s.tracker.release(s) })
	return s.rows.Close()
}

func (s *sqlRows) ColumnTypes() ([]*sql.ColumnType, error) { return s.rows.ColumnTypes() }

func (s *sqlRows) Columns() ([]string, error) { return s.rows.Columns() }

func (s *sqlRows) Err() error { return s.rows.Err() }

func (s *sqlRows) Next() bool { return s.rows.Next() }

func (s *sqlRows) Scan(dest ...interface{}) error { return s.rows.Scan(dest...) }
