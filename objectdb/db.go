// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objectdb opens the SQL database that holds the object store and
// hands out the sessions used by the pack and undo machinery.
package objectdb

import (
	"context"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers pgx as a tagsql driver.
	_ "github.com/mattn/go-sqlite3"    // registers sqlite3 as a tagsql driver.
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/relstore/private/dbutil"
	"storj.io/relstore/private/dbutil/pgutil"
	"storj.io/relstore/private/dbutil/txutil"
	"storj.io/relstore/private/tagsql"
)

var (
	mon = monkit.Package()

	// Error is the default objectdb errs class.
	Error = errs.Class("objectdb")
)

// Config configures the object database.
type Config struct {
	KeepHistory     bool          `help:"keep every object revision until it is packed, required for undo" default:"true"`
	ApplicationName string        `help:"application name reported to postgres" default:"relstore"`
	BusyTimeout     time.Duration `help:"how long sqlite3 waits for a locked database" default:"5s" testDefault:"10s"`
	ReadConns       int           `help:"maximum number of sqlite3 read connections" default:"4"`
}

// DB is the object database.
type DB struct {
	log    *zap.Logger
	impl   dbutil.Implementation
	config Config
	source string

	// read and write are the same pool unless the database is sqlite3.
	read  tagsql.DB
	write tagsql.DB

	locker CommitLocker
}

// Open opens the object database at databaseURL.
func Open(ctx context.Context, log *zap.Logger, databaseURL string, config Config) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	driver, source, impl, err := dbutil.SplitConnStr(databaseURL)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	db := &DB{
		log:    log,
		impl:   impl,
		config: config,
		source: source,
	}

	switch impl {
	case dbutil.Postgres, dbutil.Cockroach:
		source, err = pgutil.CheckApplicationName(source, config.ApplicationName)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		db.source = source

		db.write, err = tagsql.Open(ctx, driver, source)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		db.read = db.write

		if impl == dbutil.Postgres {
			db.locker = &advisoryLocker{key: commitLockKey}
		} else {
			db.locker = noopLocker{}
		}

	case dbutil.SQLite3:
		if strings.Contains(source, ":memory:") {
			return nil, Error.New("in-memory sqlite3 databases are not supported")
		}

		busyTimeout := config.BusyTimeout
		if busyTimeout <= 0 {
			busyTimeout = 5 * time.Second
		}
		busy := strconv.FormatInt(busyTimeout.Milliseconds(), 10)

		db.write, err = tagsql.Open(ctx, driver, withParams(source, "_journal_mode=WAL&_busy_timeout="+busy+"&_txlock=immediate"))
		if err != nil {
			return nil, Error.Wrap(err)
		}
		db.write.SetMaxOpenConns(1)
		db.write.SetMaxIdleConns(1)

		db.read, err = tagsql.Open(ctx, driver, withParams(source, "_journal_mode=WAL&_busy_timeout="+busy))
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), db.write.Close())
		}
		readConns := config.ReadConns
		if readConns <= 0 {
			readConns = 4
		}
		db.read.SetMaxOpenConns(readConns)
		db.read.SetMaxIdleConns(readConns)

		db.locker = &localLocker{sem: make(chan struct{}, 1)}

	default:
		return nil, Error.New("unsupported implementation: %s", impl)
	}

	log.Debug("Connected", zap.Stringer("implementation", impl), zap.Bool("keep history", config.KeepHistory))

	return db, nil
}

func withParams(source, params string) string {
	if strings.Contains(source, "?") {
		return source + "&" + params
	}
	return source + "?" + params
}

// Implementation returns the database implementation.
func (db *DB) Implementation() dbutil.Implementation { return db.impl }

// KeepHistory returns whether the store keeps every revision.
func (db *DB) KeepHistory() bool { return db.config.KeepHistory }

// CommitLocker returns the lock that serializes commits.
func (db *DB) CommitLocker() CommitLocker { return db.locker }

// MigrateToLatest creates or updates the object tables.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if db.impl == dbutil.Postgres || db.impl == dbutil.Cockroach {
		schema, err := pgutil.ParseSchemaFromConnstr(db.source)
		if err != nil {
			return Error.Wrap(err)
		}
		if schema != "" {
			if err := pgutil.CreateSchema(ctx, db.write, schema); err != nil {
				return Error.Wrap(err)
			}
		}
	}

	return Error.Wrap(db.Migration().Run(ctx, db.log.Named("migrate")))
}

// WithTx runs fn in a write transaction, retrying it on transient failures.
// Statements use `?` placeholders.
func (db *DB) WithTx(ctx context.Context, fn func(context.Context, tagsql.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	return Error.Wrap(txutil.WithTx(ctx, db.write, nil, func(ctx context.Context, tx tagsql.Tx) error {
		return fn(ctx, &reboundTx{Tx: tx, impl: db.impl})
	}))
}

// Ping checks whether both pools can reach the database.
func (db *DB) Ping(ctx context.Context) error {
	return Error.Wrap(errs.Combine(db.write.PingContext(ctx), db.read.PingContext(ctx)))
}

// Close closes the connection to database.
func (db *DB) Close() error {
	if db.read == db.write {
		return Error.Wrap(db.write.Close())
	}
	return Error.Wrap(errs.Combine(db.read.Close(), db.write.Close()))
}
