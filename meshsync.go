package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/comm"
	"github.com/phil-mansfield/meshsync/lib/config"
	merror "github.com/phil-mansfield/meshsync/lib/error"
	"github.com/phil-mansfield/meshsync/lib/exchange"
	"github.com/phil-mansfield/meshsync/lib/field"
	"github.com/phil-mansfield/meshsync/lib/format"
	"github.com/phil-mansfield/meshsync/lib/log"
	"github.com/phil-mansfield/meshsync/lib/mesh"
	"github.com/phil-mansfield/meshsync/lib/thread"
	"github.com/phil-mansfield/meshsync/lib/vtk"
)

const usage = `Usage: meshsync <input-mesh> <output-vtk-dir>

Synchronizes rank-valued test fields across every part of <input-mesh>,
checks that each vertex ends up holding its owner's rank, and writes one VTK
piece per rank to <output-vtk-dir>. Settings are read from MESHSYNC_*
environment variables.
`

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		merror.External(nil, "%s", err)
	}
}

func rootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "meshsync <input-mesh> <output-vtk-dir>",
		Short:         "Synchronize ghost vertices of a partitioned mesh",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				fmt.Fprint(os.Stderr, usage)
				return fmt.Errorf("meshsync takes 2 arguments, but %d were given.", len(args))
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd.Context(), args[0], args[1])
		},
	}
}

// run sets up the driver and runs it on every rank. It never returns an
// error: everything is fatal.
func run(ctx context.Context, meshPath, outDir string) {
	v, err := config.New()
	if err != nil {
		merror.Internal(nil, "%s", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		merror.External(nil, "%s", err)
	}
	logger, err := log.New("meshsync", cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		merror.External(nil, "%s", err)
	}
	defer logger.Sync()

	if err := thread.Set(cfg.Threads); err != nil {
		merror.External(logger, "%s", err)
	}
	file, err := mesh.ReadFile(meshPath)
	if err != nil {
		merror.External(logger, "%s", err)
	}
	cd, err := codec.Get(cfg.Codec)
	if err != nil {
		merror.External(logger, "%s", err)
	}
	sel, err := format.NewSelection(cfg.ExportRanks)
	if err != nil {
		merror.External(logger, "%s", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		merror.External(logger, "%s", err)
	}

	d := &driver{
		file: file, outDir: outDir, repeat: cfg.Repeat,
		export: sel, log: logger,
	}

	if len(cfg.Peers) == 0 {
		world, err := comm.NewWorld(len(file.Parts), cd, logger)
		if err != nil {
			merror.External(logger, "%s", err)
		}
		err = world.Run(ctx, d.syncRank)
		report(logger, err)
		return
	}

	c, err := comm.DialTCP(ctx, comm.TCPConfig{
		Rank: cfg.Rank, Peers: cfg.Peers, Codec: cd,
		DialTimeout: cfg.DialTimeout, Log: logger,
	})
	if err != nil {
		merror.External(logger, "%s", err)
	}
	defer c.Close()
	report(logger, d.syncRank(ctx, c))
}

func report(logger *zap.Logger, err error) {
	switch {
	case err == nil:
		logger.Info("every ghost matches its owner")
	case errors.Is(err, errMeshMismatch):
		merror.External(logger, "%s", err)
	default:
		merror.Internal(logger, "%s", err)
	}
}

var errMeshMismatch = errors.New("mesh does not fit the communicator")

// driver synchronizes test fields on a single mesh.
type driver struct {
	file   *mesh.File
	outDir string
	repeat int
	export format.Selection
	log    *zap.Logger
}

// syncRank is the work done by each rank: fill a scalar field and a 10x10
// field with the rank, synchronize both, check them against the ownership
// table, and export the result.
func (d *driver) syncRank(ctx context.Context, c comm.Communicator) error {
	rank := c.Rank()
	logger := log.ForRank(d.log, rank)

	m, err := mesh.Open(d.file, c, d.log)
	if err != nil {
		return fmt.Errorf("%w: %s", errMeshMismatch, err)
	}
	p, err := m.AskDistribution(ctx, mesh.Vertex)
	if err != nil {
		return err
	}
	owners, err := m.AskOwners(mesh.Vertex)
	if err != nil {
		return err
	}
	n, err := m.EntityCount(mesh.Vertex)
	if err != nil {
		return err
	}

	pool := thread.New(0, logger)
	mf := field.NewMeshField[int32](pool, logger)
	scalarTag, scalar, err := mf.MakeField(field.EntityMajor, n)
	if err != nil {
		return err
	}
	stressTag, stress, err := mf.MakeField(field.ComponentMajor, n, 10, 10)
	if err != nil {
		return err
	}

	for _, f := range []*field.Field[int32]{scalar, stress} {
		v := f.View()
		mf.ParallelFor(0, n, func(i int) {
			for k := 0; k < v.Width(); k++ {
				v.Put(i, k, int32(rank))
			}
		}, "init")
	}

	start := time.Now()
	for round := 0; round < d.repeat; round++ {
		for _, tag := range []int{scalarTag, stressTag} {
			if err := exchange.Sync(ctx, c, mf, tag, p); err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
		}
	}
	elapsed := time.Since(start)
	logger.Info("synchronized", zap.Int("rounds", d.repeat),
		zap.Int("vertices", n), zap.Int("ghosts", owners.Ghosts()),
		zap.Duration("elapsed", elapsed),
		zap.Duration("per_round", elapsed/time.Duration(d.repeat)))

	for _, f := range []*field.Field[int32]{scalar, stress} {
		if err := exchange.VerifyGlobal(ctx, c, pool, f, owners); err != nil {
			return err
		}
	}

	if rank == 0 {
		if err := d.writeIndex(c.Size()); err != nil {
			return err
		}
	}
	if !d.export.Contains(rank) {
		return nil
	}
	ranks, err := stress.Component(0, 0)
	if err != nil {
		return err
	}
	path := vtk.PiecePath(d.outDir, rank)
	err = vtk.Write(path, m.Coords(),
		vtk.FromScalars("rank", ranks),
		vtk.FromScalars("owner", owners.OwnerRanks()),
	)
	if err != nil {
		return err
	}
	logger.Info("wrote piece", zap.String("path", path))
	return nil
}

// writeIndex writes the multiblock file which groups the exported pieces.
func (d *driver) writeIndex(size int) error {
	pieces := map[int]string{}
	for r := 0; r < size; r++ {
		if d.export.Contains(r) {
			pieces[r] = filepath.Base(vtk.PiecePath(d.outDir, r))
		}
	}
	if len(pieces) == 0 {
		return nil
	}
	path := vtk.IndexPath(d.outDir)
	if err := vtk.WriteIndex(path, pieces); err != nil {
		return err
	}
	d.log.Info("wrote index", zap.String("path", path), zap.Int("pieces", len(pieces)))
	return nil
}
