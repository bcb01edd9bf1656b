/*package mesh contains the partitioned meshes whose vertices fields are
attached to. A Mesh is one rank's part of a File, and it hands out the
ownership table and distribution plan for each kind of entity.
*/
package mesh

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/phil-mansfield/meshsync/lib/comm"
	"github.com/phil-mansfield/meshsync/lib/log"
	"github.com/phil-mansfield/meshsync/lib/plan"
)

// EntityKind is a kind of mesh entity.
type EntityKind int

const (
	Vertex EntityKind = iota
	Edge
	Face
	Region
)

func (k EntityKind) String() string {
	switch k {
	case Vertex:
		return "vertex"
	case Edge:
		return "edge"
	case Face:
		return "face"
	case Region:
		return "region"
	}
	return fmt.Sprintf("EntityKind(%d)", int(k))
}

// Mesh is the part of a mesh held by a single rank.
type Mesh struct {
	comm   comm.Communicator
	dim    int
	coords [][]float64
	owners *plan.OwnershipTable
	log    *zap.Logger

	mu    sync.Mutex
	plans map[EntityKind]*plan.Plan
}

// Open returns the calling rank's part of f. f must have one part per rank of
// c.
func Open(f *File, c comm.Communicator, l *zap.Logger) (*Mesh, error) {
	if len(f.Parts) != c.Size() {
		return nil, fmt.Errorf("mesh has %d parts, but %d ranks are running", len(f.Parts), c.Size())
	}
	part := &f.Parts[c.Rank()]
	owners, err := plan.NewOwnershipTable(c.Rank(), part.OwnerRanks, part.OwnerIndices)
	if err != nil {
		return nil, err
	}

	m := &Mesh{
		comm: c, dim: f.Dim, coords: part.Coords, owners: owners,
		log: log.ForRank(l, c.Rank()), plans: map[EntityKind]*plan.Plan{},
	}
	m.log.Info("opened mesh part", zap.Int("vertices", owners.Len()),
		zap.Int("ghosts", owners.Ghosts()))
	return m, nil
}

func checkKind(kind EntityKind) error {
	if kind != Vertex {
		return fmt.Errorf("%s fields are not supported, only vertex fields", kind)
	}
	return nil
}

// Dim returns the number of spatial dimensions.
func (m *Mesh) Dim() int { return m.dim }

// Coords returns the positions of the rank's vertices.
func (m *Mesh) Coords() [][]float64 { return m.coords }

// EntityCount returns the number of local entities of a given kind, including
// ghosts.
func (m *Mesh) EntityCount(kind EntityKind) (int, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	return m.owners.Len(), nil
}

// AskOwners returns the ownership table for a given kind of entity.
func (m *Mesh) AskOwners(kind EntityKind) (*plan.OwnershipTable, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	return m.owners, nil
}

// AskDistribution returns the distribution plan for a given kind of entity.
// The plan is built the first time it is asked for, which is collective, so
// every rank must ask for the same kinds in the same order.
func (m *Mesh) AskDistribution(ctx context.Context, kind EntityKind) (*plan.Plan, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.plans[kind]; ok {
		return p, nil
	}

	p, err := plan.Build(ctx, m.comm, m.owners)
	if err != nil {
		return nil, fmt.Errorf("building %s plan: %w", kind, err)
	}
	m.plans[kind] = p
	m.log.Debug("built plan", zap.Stringer("kind", kind), zap.Ints("neighbors", p.Neighbors()))
	return p, nil
}
