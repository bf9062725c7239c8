// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package txutil_test

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"storj.io/relstore/private/dbutil/txutil"
)

func TestIsRetryable(t *testing.T) {
	require.False(t, txutil.IsRetryable(nil))
	require.False(t, txutil.IsRetryable(errors.New("boom")))

	serialization := errs.Wrap(&pgconn.PgError{Code: "40001"})
	require.True(t, txutil.IsRetryable(serialization))
	require.Equal(t, "40001", txutil.ErrCode(serialization))

	require.False(t, txutil.IsRetryable(&pgconn.PgError{Code: "23505"}))

	require.True(t, txutil.IsRetryable(sqlite3.Error{Code: sqlite3.ErrBusy}))
	require.True(t, txutil.IsRetryable(errs.Wrap(sqlite3.Error{Code: sqlite3.ErrLocked})))
	require.False(t, txutil.IsRetryable(sqlite3.Error{Code: sqlite3.ErrConstraint}))
}
