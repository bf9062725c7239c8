// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pgutil contains utilities for postgres compatible databases.
package pgutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zeebo/errs"

	"storj.io/relstore/private/tagsql"
)

// Error is the default pgutil error class.
var Error = errs.Class("pgutil")

// CheckApplicationName ensures that the connection string contains an application name.
func CheckApplicationName(s string, app string) (string, error) {
	if !strings.HasPrefix(s, "postgres://") && !strings.HasPrefix(s, "postgresql://") &&
		!strings.HasPrefix(s, "cockroach://") {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", Error.Wrap(err)
	}

	query := u.Query()
	if query.Get("application_name") != "" {
		// return source as is if application_name is set
		return s, nil
	}
	if app == "" {
		app = "relstore"
	}
	query.Set("application_name", app)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// ConnstrWithSchema adds schema to a connection string.
func ConnstrWithSchema(connstr, schema string) string {
	if strings.Contains(connstr, "?") {
		return connstr + "&search_path=" + url.QueryEscape(QuoteIdentifier(schema))
	}
	return connstr + "?search_path=" + url.QueryEscape(QuoteIdentifier(schema))
}

// ParseSchemaFromConnstr returns the name of the schema parsed from the
// search_path parameter of the connection string, if one exists.
func ParseSchemaFromConnstr(connstr string) (string, error) {
	u, err := url.Parse(connstr)
	if err != nil {
		return "", Error.New("invalid connection string: %v", err)
	}

	schemas := u.Query()["search_path"]
	switch len(schemas) {
	case 0:
		return "", nil
	case 1:
		return UnquoteIdentifier(schemas[0]), nil
	default:
		return "", Error.New("more than one search path in connection string %q", connstr)
	}
}

// UnquoteIdentifier is the inverse of QuoteIdentifier.
func UnquoteIdentifier(quoted string) string {
	if len(quoted) >= 2 && quoted[0] == '"' && quoted[len(quoted)-1] == '"' {
		quoted = strings.ReplaceAll(quoted[1:len(quoted)-1], `""`, `"`)
	}
	return quoted
}

// QuoteIdentifier quotes an identifier for use in an sql statement.
func QuoteIdentifier(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// CreateRandomTestingSchemaName creates a random schema name string.
func CreateRandomTestingSchemaName(n int) string {
	data := make([]byte, n)
	_, _ = rand.Read(data)
	return hex.EncodeToString(data)
}

// CreateSchema creates a schema if it doesn't exist.
func CreateSchema(ctx context.Context, db tagsql.ExecQueryer, schema string) (err error) {
	_, err = db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+QuoteIdentifier(schema)+`;`)
	return Error.Wrap(err)
}

// DropSchema drops the named schema.
func DropSchema(ctx context.Context, db tagsql.ExecQueryer, schema string) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA `+QuoteIdentifier(schema)+` CASCADE;`)
	return Error.Wrap(err)
}

// IsConstraintError checks if given error is about constraint violation.
func IsConstraintError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}
