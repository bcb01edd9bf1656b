// meshgen writes partitioned structured-grid meshes for meshsync.
package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	merror "github.com/phil-mansfield/meshsync/lib/error"
	"github.com/phil-mansfield/meshsync/lib/log"
	"github.com/phil-mansfield/meshsync/lib/mesh"
)

func main() {
	var (
		nx, ny, parts int
		seed          uint64
	)

	cmd := &cobra.Command{
		Use:           "meshgen [flags] <output-mesh>",
		Short:         "Write an nx by ny grid split into vertical strips",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			logger, err := log.New("meshgen", "info", false)
			if err != nil {
				merror.Internal(nil, "%s", err)
			}
			f, err := mesh.NewGrid(nx, ny, parts, seed)
			if err != nil {
				merror.External(logger, "%s", err)
			}
			if err := mesh.WriteFile(args[0], f); err != nil {
				merror.External(logger, "%s", err)
			}
			logger.Info("wrote mesh", zap.String("path", args[0]),
				zap.Int("nx", nx), zap.Int("ny", ny), zap.Int("parts", parts))
		},
	}
	cmd.Flags().IntVar(&nx, "nx", 16, "number of vertex columns")
	cmd.Flags().IntVar(&ny, "ny", 16, "number of vertex rows")
	cmd.Flags().IntVar(&parts, "parts", 2, "number of parts (ranks)")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "seed used to shuffle each part's vertex order")

	if err := cmd.Execute(); err != nil {
		merror.External(nil, "%s", err)
	}
}
