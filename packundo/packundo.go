// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package packundo implements packing and undo for the object store.
//
// Packing runs in two phases that commit independently. PrePack decides per
// object whether its older revisions (or, with garbage collection, the whole
// object) can go and writes that plan to the pack tables. Pack consumes the
// plan in small time boxed batches. An interrupted Pack can resume from the
// plan without a new PrePack, see FindPackTID.
//
// Stores that keep history also support undoing a transaction by copying the
// previous revision of every object it touched forward.
package packundo

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/private/tagsql"
)

var (
	mon = monkit.Package()

	// Error is the default packundo errs class.
	Error = errs.Class("packundo")
	// ErrUndoRejected is returned when a transaction cannot be undone.
	ErrUndoRejected = errs.Class("undo rejected")
	// ErrUndoUnsupported is returned by stores that do not keep history.
	ErrUndoUnsupported = errs.Class("undo unsupported")
	// ErrExtraction is returned when the references of a state cannot be
	// extracted.
	ErrExtraction = errs.Class("reference extraction")
)

// ReferencesFunc returns the objects referenced from a serialized state. It
// must not do any I/O.
type ReferencesFunc func(state []byte) ([]objectdb.OID, error)

// PackedFunc is called for every revision removed by Pack, after the removal
// has been committed.
type PackedFunc func(oid objectdb.OID, tid objectdb.TID)

// Revision names one stored revision of an object.
type Revision struct {
	OID objectdb.OID
	TID objectdb.TID
}

// PackUndo packs and undoes transactions of one store layout.
type PackUndo interface {
	// KeepHistory returns whether the store keeps every revision.
	KeepHistory() bool

	// ChoosePackTransaction returns the newest transaction at or before
	// packPoint that can be packed. ok is false when there is nothing to
	// pack.
	ChoosePackTransaction(ctx context.Context, packPoint objectdb.TID) (tid objectdb.TID, ok bool, err error)
	// FindPackTID recovers the pack tid of an interrupted pack from the
	// plan left by PrePack.
	FindPackTID(ctx context.Context) (objectdb.TID, error)

	// FillObjectRefs brings the stored reference edges up to date with the
	// snapshot of load.
	FillObjectRefs(ctx context.Context, load, store *objectdb.Session, getReferences ReferencesFunc) error
	// PrePack decides what to pack up to and including packTID.
	PrePack(ctx context.Context, packTID objectdb.TID, getReferences ReferencesFunc) error
	// Pack removes what PrePack decided and clears the plan.
	Pack(ctx context.Context, packTID objectdb.TID, onPacked PackedFunc) error

	// VerifyUndoable returns ErrUndoRejected when undoTID cannot be undone.
	VerifyUndoable(ctx context.Context, tx tagsql.ExecQueryer, undoTID objectdb.TID) error
	// Undo copies the revisions preceding undoTID forward into selfTID and
	// returns the copied (oid, previous tid) pairs.
	Undo(ctx context.Context, tx tagsql.ExecQueryer, undoTID, selfTID objectdb.TID) ([]Revision, error)
	// UndoTransaction commits a new transaction that undoes undoTID and
	// returns its tid with the copied pairs.
	UndoTransaction(ctx context.Context, undoTID objectdb.TID, meta TransactionMeta) (objectdb.TID, []Revision, error)

	// DeleteObject removes the revision oldTID of oid for an external
	// garbage collector and returns the number of affected rows.
	DeleteObject(ctx context.Context, tx tagsql.ExecQueryer, oid objectdb.OID, oldTID objectdb.TID) (int64, error)
}

// Options holds collaborators that are not part of the configuration.
type Options struct {
	Hooks    Hooks
	Observer Observer
}

// New returns the PackUndo implementation matching the layout of db.
func New(log *zap.Logger, db *objectdb.DB, config Config, opts Options) PackUndo {
	e := newEngine(log, db, config, opts)
	if db.KeepHistory() {
		return &HistoryPreserving{engine: e}
	}
	return &HistoryFree{engine: e}
}

var (
	_ PackUndo = (*HistoryPreserving)(nil)
	_ PackUndo = (*HistoryFree)(nil)
)
