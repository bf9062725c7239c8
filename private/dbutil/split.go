// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default dbutil error class.
var Error = errs.Class("dbutil")

// SplitConnStr returns the driver and DSN portions of a URL, along with the db implementation.
//
// sqlite3 URLs keep only the path (and query), the other schemes keep the
// full URL with the scheme normalized to what pgx expects.
func SplitConnStr(s string) (driver string, source string, implementation Implementation, err error) {
	// consider https://github.com/xo/dburl if this ends up lacking
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 {
		return "", "", Unknown, Error.New("could not parse DB URL %q", s)
	}

	implementation = ImplementationForScheme(parts[0])
	switch implementation {
	case Postgres:
		source = "postgres://" + parts[1]
	case Cockroach:
		source = "postgres://" + parts[1]
	case SQLite3:
		source = parts[1]
		if source == "" {
			return "", "", Unknown, Error.New("missing sqlite3 path in %q", s)
		}
	default:
		return "", "", Unknown, Error.New("unsupported database scheme %q", parts[0])
	}

	return implementation.DriverName(), source, implementation, nil
}
