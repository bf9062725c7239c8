// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectdb

import (
	"context"

	"storj.io/relstore/private/tagsql"
)

// commitLockKey is the postgres advisory lock key shared by all committers.
const commitLockKey = 0x72656c73

// CommitLocker serializes commits across processes.
//
// The lock is taken on the session of tx and must be released on the same
// session, possibly after the transaction has been committed.
type CommitLocker interface {
	HoldCommitLock(ctx context.Context, tx tagsql.ExecQueryer) error
	ReleaseCommitLock(ctx context.Context, tx tagsql.ExecQueryer) error
}

// advisoryLocker uses a session level postgres advisory lock.
type advisoryLocker struct {
	key int64
}

func (l *advisoryLocker) HoldCommitLock(ctx context.Context, tx tagsql.ExecQueryer) (err error) {
	defer mon.Task()(&ctx)(&err)
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_lock(?)`, l.key)
	return Error.Wrap(err)
}

func (l *advisoryLocker) ReleaseCommitLock(ctx context.Context, tx tagsql.ExecQueryer) (err error) {
	defer mon.Task()(&ctx)(&err)
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_unlock(?)`, l.key)
	return Error.Wrap(err)
}

// localLocker serializes committers of one process. Across processes sqlite3
// serializes writers itself, the write pool starts every transaction with
// BEGIN IMMEDIATE.
type localLocker struct {
	sem chan struct{}
}

func (l *localLocker) HoldCommitLock(ctx context.Context, _ tagsql.ExecQueryer) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return Error.New("commit lock: %w", ctx.Err())
	}
}

func (l *localLocker) ReleaseCommitLock(ctx context.Context, _ tagsql.ExecQueryer) error {
	select {
	case <-l.sem:
		return nil
	default:
		return Error.New("commit lock is not held")
	}
}

// noopLocker relies on serializable transactions to order committers.
type noopLocker struct{}

func (noopLocker) HoldCommitLock(ctx context.Context, _ tagsql.ExecQueryer) error { return nil }

func (noopLocker) ReleaseCommitLock(ctx context.Context, _ tagsql.ExecQueryer) error { return nil }
