// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import "strings"

// Implementation type of valid DBs.
type Implementation int

const (
	// Unknown is an unknown db type.
	Unknown Implementation = iota
	// Postgres is a Postgresdb type.
	Postgres
	// Cockroach is a Cockroachdb type.
	Cockroach
	// SQLite3 is a sqlite3 database type.
	SQLite3
)

// ImplementationForScheme returns the Implementation that is used for
// the url with the provided scheme.
func ImplementationForScheme(scheme string) Implementation {
	switch strings.ToLower(scheme) {
	case "pgx", "postgres", "postgresql":
		return Postgres
	case "cockroach":
		return Cockroach
	case "sqlite", "sqlite3":
		return SQLite3
	default:
		return Unknown
	}
}

// SchemeForImplementation returns the scheme that is used for URLs
// that use the given Implementation.
func SchemeForImplementation(implementation Implementation) string {
	return implementation.String()
}

// String returns the default name for a given implementation.
func (impl Implementation) String() string {
	switch impl {
	case Postgres:
		return "postgres"
	case Cockroach:
		return "cockroach"
	case SQLite3:
		return "sqlite3"
	default:
		return "<unknown>"
	}
}

// DriverName returns the database/sql driver registered for the implementation.
func (impl Implementation) DriverName() string {
	switch impl {
	case Postgres, Cockroach:
		return "pgx"
	case SQLite3:
		return "sqlite3"
	default:
		return ""
	}
}
