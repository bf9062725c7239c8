// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package packchore packs the object store periodically.
package packchore

import (
	"context"
	"errors"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/relstore/objectdb"
	"storj.io/relstore/packundo"
)

var (
	// Error defines the pack chore errors class.
	Error = errs.Class("pack chore")
	mon   = monkit.Package()
)

// Config contains configurable values for periodic packing.
type Config struct {
	Enabled  bool          `help:"set if periodic packing is enabled or not" default:"true"`
	Interval time.Duration `help:"the time between pack runs" releaseDefault:"24h" devDefault:"1m"`
	KeepFor  time.Duration `help:"how much history to keep, transactions older than this are packed" default:"168h"`
}

// Chore packs everything older than KeepFor.
//
// architecture: Chore
type Chore struct {
	log    *zap.Logger
	config Config
	packer *packundo.Packer

	nowFn func() time.Time
	Loop  *sync2.Cycle
}

// NewChore creates a new instance of the pack chore.
func NewChore(log *zap.Logger, config Config, packer *packundo.Packer) *Chore {
	return &Chore{
		log:    log,
		config: config,
		packer: packer,

		nowFn: time.Now,
		Loop:  sync2.NewCycle(config.Interval),
	}
}

// Run starts the pack loop.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !chore.config.Enabled {
		return nil
	}

	return chore.Loop.Run(ctx, chore.RunOnce)
}

// Close stops the pack chore.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// TestingSetNow allows tests to have the chore act as if the current time is whatever they want.
func (chore *Chore) TestingSetNow(nowFn func() time.Time) {
	chore.nowFn = nowFn
}

// RunOnce packs once. A failed pack is logged and retried on the next
// cycle.
func (chore *Chore) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	packPoint := objectdb.TIDFromTime(chore.nowFn().Add(-chore.config.KeepFor))
	chore.log.Debug("packing", zap.Stringer("pack point", packPoint))

	packTID, err := chore.packer.Run(ctx, packundo.PackOptions{PackPoint: packPoint})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		chore.log.Error("pack failed", zap.Error(err))
		return nil
	}
	if packTID != 0 {
		chore.log.Info("packed", zap.Stringer("pack tid", packTID), zap.Time("packed until", packTID.Time()))
	}
	return nil
}
