// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"time"

	"storj.io/relstore/objectdb"
)

// Config contains configurable values for packing.
type Config struct {
	GC                        bool          `help:"remove objects that are not reachable from the root object" default:"true"`
	BatchTimeout              time.Duration `help:"how long a pack batch may run before it is committed" default:"1s"`
	RefsCommitInterval        time.Duration `help:"how often reference analysis commits its progress" releaseDefault:"1m" devDefault:"10s" testDefault:"1s"`
	RefsBatchSize             int           `help:"how many objects to analyze at a time in history free stores" default:"100"`
	CursorFetchSize           int           `help:"how many rows to read at a time from large result sets" default:"10000"`
	DeleteChunkSize           int           `help:"how many states to remove per statement in history free stores" default:"100"`
	VisitBatchSize            int           `help:"how many reachable objects to upload per statement" default:"1000"`
	EmptyTransactionBatchSize int           `help:"how many empty transactions to delete per commit" default:"1000"`
	CommitLockTimeout         time.Duration `help:"how long to wait for the commit lock" default:"1m"`
}

func (config Config) withDefaults() Config {
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = time.Second
	}
	if config.RefsCommitInterval <= 0 {
		config.RefsCommitInterval = time.Minute
	}
	if config.RefsBatchSize <= 0 {
		config.RefsBatchSize = 100
	}
	if config.CursorFetchSize <= 0 {
		config.CursorFetchSize = 10000
	}
	if config.DeleteChunkSize <= 0 {
		config.DeleteChunkSize = 100
	}
	if config.VisitBatchSize <= 0 {
		config.VisitBatchSize = 1000
	}
	if config.EmptyTransactionBatchSize <= 0 {
		config.EmptyTransactionBatchSize = 1000
	}
	if config.CommitLockTimeout <= 0 {
		config.CommitLockTimeout = time.Minute
	}
	return config
}

// Hooks are called at fixed points of reference analysis. Used by tests.
type Hooks struct {
	// OnFillRefsStart is called with the number of units to analyze,
	// transactions when history is kept and objects otherwise.
	OnFillRefsStart func(units int)
	// OnFillRefsBatch is called after the edges of a batch of objects have
	// been written, before they are committed.
	OnFillRefsBatch func(oids []objectdb.OID, refs int)
}

// Observer receives pack statistics.
type Observer interface {
	RefsAnalyzed(units, refs int)
	Reachable(count int)
	Planned(states int)
	StatesRemoved(count int)
	TransactionsPacked(count int)
	EmptyTransactionsDeleted(count int)
	PhaseDone(phase string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RefsAnalyzed(units, refs int)                            {}
func (nopObserver) Reachable(count int)                                     {}
func (nopObserver) Planned(states int)                                      {}
func (nopObserver) StatesRemoved(count int)                                 {}
func (nopObserver) TransactionsPacked(count int)                            {}
func (nopObserver) EmptyTransactionsDeleted(count int)                      {}
func (nopObserver) PhaseDone(phase string, duration time.Duration, err error) {}
