// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packundo

import (
	"context"

	"go.uber.org/zap"

	"storj.io/relstore/objectdb"
)

// PackOptions selects what Packer.Run does.
type PackOptions struct {
	// PackPoint is the newest tid that may be packed.
	PackPoint objectdb.TID
	// SkipPrePack resumes from the plan of an earlier PrePack.
	SkipPrePack bool
	// PrePackOnly stops after the plan has been written.
	PrePackOnly bool
}

// Packer drives a full pack.
type Packer struct {
	log           *zap.Logger
	packUndo      PackUndo
	getReferences ReferencesFunc
	onPacked      PackedFunc
}

// NewPacker returns a packer. onPacked may be nil.
func NewPacker(log *zap.Logger, packUndo PackUndo, getReferences ReferencesFunc, onPacked PackedFunc) *Packer {
	return &Packer{
		log:           log,
		packUndo:      packUndo,
		getReferences: getReferences,
		onPacked:      onPacked,
	}
}

// Run packs according to opts and returns the pack tid used. It returns
// zero when there was nothing to pack.
func (p *Packer) Run(ctx context.Context, opts PackOptions) (packTID objectdb.TID, err error) {
	defer mon.Task()(&ctx)(&err)

	if opts.SkipPrePack {
		packTID, err = p.packUndo.FindPackTID(ctx)
		if err != nil {
			return 0, err
		}
		if packTID == 0 && p.packUndo.KeepHistory() {
			p.log.Info("pack: no plan to resume")
			return 0, nil
		}
		p.log.Info("pack: resuming", zap.Stringer("pack tid", packTID))
	} else {
		var ok bool
		packTID, ok, err = p.packUndo.ChoosePackTransaction(ctx, opts.PackPoint)
		if err != nil {
			return 0, err
		}
		if !ok {
			p.log.Info("pack: nothing to pack", zap.Stringer("pack point", opts.PackPoint))
			return 0, nil
		}

		if err := p.packUndo.PrePack(ctx, packTID, p.getReferences); err != nil {
			return 0, err
		}
		if opts.PrePackOnly {
			return packTID, nil
		}
	}

	if err := p.packUndo.Pack(ctx, packTID, p.onPacked); err != nil {
		return 0, err
	}
	return packTID, nil
}
