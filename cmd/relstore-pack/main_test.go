// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/relstore/objectdb"
)

func TestParseTID(t *testing.T) {
	tid, err := parseTID("42")
	require.NoError(t, err)
	require.Equal(t, objectdb.TID(42), tid)

	tid, err = parseTID(objectdb.TID(0x3ff).String())
	require.NoError(t, err)
	require.Equal(t, objectdb.TID(0x3ff), tid)

	for _, bad := range []string{"", "-1", "tid", "0xffffffffffffffff"} {
		_, err := parseTID(bad)
		require.Error(t, err, bad)
	}
}
