// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"
	"storj.io/relstore/objectdb"
	"storj.io/relstore/packundo"
	"storj.io/relstore/packundo/packchore"
	"storj.io/relstore/packundo/packmetrics"
	"storj.io/relstore/packundo/refs"
	"storj.io/relstore/private/tagsql"
)

var (
	rootCmd = &cobra.Command{
		Use:   "relstore-pack",
		Short: "Pack and undo for the relational object store",
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the object tables",
		RunE:  cmdMigrate,
	}
	packCmd = &cobra.Command{
		Use:   "pack",
		Short: "Pack the object store once",
		RunE:  cmdPack,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Pack the object store periodically",
		RunE:  cmdRun,
	}
	undoCmd = &cobra.Command{
		Use:   "undo <tid>",
		Short: "Undo a transaction",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdUndo,
	}
	verifyUndoCmd = &cobra.Command{
		Use:   "verify-undo <tid>",
		Short: "Check whether a transaction can be undone",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdVerifyUndo,
	}
	confDir string

	runCfg   Config
	setupCfg Config

	packFlags struct {
		keepFor     time.Duration
		packTID     string
		prePackOnly bool
		skipPrePack bool
	}
	undoFlags struct {
		user        string
		description string
	}
)

// Config is the configuration shared by every command.
type Config struct {
	DatabaseURL string `help:"URL of the object database (sqlite3://, postgres:// or cockroach://)" default:""`
	StateFormat string `help:"encoding of object states, used to find references (json, none)" default:"json"`
	MetricsAddr string `help:"address to serve prometheus metrics on, empty to disable" default:""`

	ObjectDB objectdb.Config
	Pack     packundo.Config
	Chore    packchore.Config
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("relstore-pack configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	if setupCfg.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL is required")
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

// openDB opens the configured object database.
func openDB(ctx context.Context, log *zap.Logger) (*objectdb.DB, error) {
	if runCfg.DatabaseURL == "" {
		return nil, errs.New("database-url is required")
	}
	db, err := objectdb.Open(ctx, log.Named("objectdb"), runCfg.DatabaseURL, runCfg.ObjectDB)
	if err != nil {
		return nil, errs.New("Error creating object database connection: %+v", err)
	}
	return db, nil
}

// newPackUndo wires the pack engine with metrics registered on reg.
func newPackUndo(log *zap.Logger, db *objectdb.DB, reg prometheus.Registerer) packundo.PackUndo {
	return packundo.New(log.Named("packundo"), db, runCfg.Pack, packundo.Options{
		Observer: packmetrics.New(reg),
	})
}

func newPacker(log *zap.Logger, db *objectdb.DB, reg prometheus.Registerer) (*packundo.Packer, error) {
	getReferences, err := refs.Lookup(runCfg.StateFormat)
	if err != nil {
		return nil, err
	}
	onPacked := func(oid objectdb.OID, tid objectdb.TID) {
		log.Debug("packed", zap.Stringer("oid", oid), zap.Stringer("tid", tid))
	}
	return packundo.NewPacker(log.Named("packer"), newPackUndo(log, db, reg), getReferences, onPacked), nil
}

func cmdMigrate(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	return db.MigrateToLatest(ctx)
}

func cmdPack(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	opts := packundo.PackOptions{
		PackPoint:   objectdb.TIDFromTime(time.Now().Add(-packFlags.keepFor)),
		PrePackOnly: packFlags.prePackOnly,
		SkipPrePack: packFlags.skipPrePack,
	}
	if packFlags.packTID != "" {
		opts.PackPoint, err = parseTID(packFlags.packTID)
		if err != nil {
			return err
		}
	}

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	packer, err := newPacker(log, db, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	packTID, err := packer.Run(ctx, opts)
	if err != nil {
		return err
	}
	if packTID == 0 {
		fmt.Println("nothing to pack")
		return nil
	}
	fmt.Printf("packed until %v (%v)\n", packTID, packTID.Time().Format(time.RFC3339))
	return nil
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	registry := prometheus.NewRegistry()
	packer, err := newPacker(log, db, registry)
	if err != nil {
		return err
	}

	chore := packchore.NewChore(log.Named("packchore"), runCfg.Chore, packer)
	defer func() { err = errs.Combine(err, chore.Close()) }()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return chore.Run(ctx)
	})
	if runCfg.MetricsAddr != "" {
		server := &http.Server{
			Addr:              runCfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			log.Info("serving metrics", zap.String("address", runCfg.MetricsAddr))
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func cmdUndo(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	undoTID, err := parseTID(args[0])
	if err != nil {
		return err
	}

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	selfTID, copied, err := newPackUndo(log, db, prometheus.NewRegistry()).UndoTransaction(ctx, undoTID, packundo.TransactionMeta{
		User:        undoFlags.user,
		Description: undoFlags.description,
	})
	if err != nil {
		return err
	}

	fmt.Printf("undid %v in %v\n", undoTID, selfTID)
	for _, rev := range copied {
		fmt.Printf("  %v restored from %v\n", rev.OID, rev.TID)
	}
	return nil
}

func cmdVerifyUndo(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	undoTID, err := parseTID(args[0])
	if err != nil {
		return err
	}

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	pu := newPackUndo(log, db, prometheus.NewRegistry())
	err = db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		return pu.VerifyUndoable(ctx, tx, undoTID)
	})
	if err != nil {
		return err
	}
	fmt.Printf("%v can be undone\n", undoTID)
	return nil
}

// parseTID accepts decimal and 0x prefixed hexadecimal tids.
func parseTID(s string) (objectdb.TID, error) {
	v, err := strconv.ParseUint(s, 0, 63)
	if err != nil {
		return 0, errs.New("invalid tid %q: %v", s, err)
	}
	return objectdb.TID(v), nil
}

func init() {
	defaultConfDir := fpath.ApplicationDir("storj", "relstore-pack")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for relstore-pack configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)

	rootCmd.AddCommand(setupCmd)
	for _, cmd := range []*cobra.Command{migrateCmd, packCmd, runCmd, undoCmd, verifyUndoCmd} {
		rootCmd.AddCommand(cmd)
		process.Bind(cmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	}
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())

	packCmd.Flags().DurationVar(&packFlags.keepFor, "keep-for", 0, "pack history older than this")
	packCmd.Flags().StringVar(&packFlags.packTID, "pack-tid", "", "pack up to this tid instead of using keep-for")
	packCmd.Flags().BoolVar(&packFlags.prePackOnly, "pre-pack-only", false, "only plan the pack")
	packCmd.Flags().BoolVar(&packFlags.skipPrePack, "skip-pre-pack", false, "resume the pack planned by an earlier run")

	undoCmd.Flags().StringVar(&undoFlags.user, "user", "", "user recorded with the undo transaction")
	undoCmd.Flags().StringVar(&undoFlags.description, "description", "", "description recorded with the undo transaction")
}

func main() {
	logger, _, _ := process.NewLogger("relstore-pack")
	zap.ReplaceGlobals(logger)

	process.Exec(rootCmd)
}
