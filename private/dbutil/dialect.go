// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"strconv"
	"strings"
)

// Rebind rewrites `?` placeholders into the numbered `$n` form used by
// postgres compatible implementations. Question marks inside literals,
// quoted identifiers and line comments are left alone.
func Rebind(impl Implementation, sql string) string {
	if impl != Postgres && impl != Cockroach {
		return sql
	}

	type sqlParseState int
	const (
		sqlParseStart sqlParseState = iota
		sqlParseInStringLiteral
		sqlParseInQuotedIdentifier
		sqlParseInComment
	)

	out := make([]byte, 0, len(sql)+10)

	j := 1
	state := sqlParseStart
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch state {
		case sqlParseStart:
			switch ch {
			case '?':
				out = append(out, '$')
				out = append(out, strconv.Itoa(j)...)
				j++
				continue
			case '-':
				if i+1 < len(sql) && sql[i+1] == '-' {
					state = sqlParseInComment
				}
			case '"':
				state = sqlParseInQuotedIdentifier
			case '\'':
				state = sqlParseInStringLiteral
			}
		case sqlParseInStringLiteral:
			if ch == '\'' {
				state = sqlParseStart
			}
		case sqlParseInQuotedIdentifier:
			if ch == '"' {
				state = sqlParseStart
			}
		case sqlParseInComment:
			if ch == '\n' {
				state = sqlParseStart
			}
		}
		out = append(out, ch)
	}

	return string(out)
}

// Truncate returns the statement that removes every row of table.
//
// sqlite3 has no TRUNCATE, it optimizes an unqualified DELETE instead.
// cockroach runs TRUNCATE as a schema change, so it gets a DELETE too.
func Truncate(impl Implementation, table string) string {
	if impl == Postgres {
		return "TRUNCATE " + table
	}
	return "DELETE FROM " + table
}

// Placeholders returns n comma separated `?` placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// ValuesList returns rows groups of `(?, ?, ...)` with columns placeholders each.
func ValuesList(rows, columns int) string {
	if rows <= 0 {
		return ""
	}
	group := "(" + Placeholders(columns) + ")"
	return strings.Repeat(group+", ", rows-1) + group
}
