package mesh

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/comm"
	"github.com/phil-mansfield/meshsync/lib/exchange"
	"github.com/phil-mansfield/meshsync/lib/field"
	"github.com/phil-mansfield/meshsync/lib/log/logtest"
	"github.com/phil-mansfield/meshsync/lib/plan"
	"github.com/phil-mansfield/meshsync/lib/thread"
)

func TestNewGrid(t *testing.T) {
	tests := []struct {
		nx, ny, parts int
		sizes         []int
	}{
		{4, 3, 1, []int{12}},
		{4, 3, 2, []int{9, 9}},
		{9, 2, 3, []int{8, 10, 8}},
		{5, 1, 5, []int{2, 3, 3, 3, 2}},
	}

	for i := range tests {
		tt := tests[i]
		f, err := NewGrid(tt.nx, tt.ny, tt.parts, 1337)
		if err != nil {
			t.Errorf("%d) Got unexpected error %v.", i, err)
			continue
		}
		if err := f.Validate(); err != nil {
			t.Errorf("%d) Generated grid is invalid: %v", i, err)
		}
		for p := range f.Parts {
			if n := len(f.Parts[p].OwnerRanks); n != tt.sizes[p] {
				t.Errorf("%d) Expected part %d to have %d vertices, got %d.", i, p, tt.sizes[p], n)
			}
		}

		// Every lattice point is owned exactly once.
		owned := map[[2]float64]int{}
		for p := range f.Parts {
			for j, r := range f.Parts[p].OwnerRanks {
				if r == p {
					c := f.Parts[p].Coords[j]
					owned[[2]float64{c[0], c[1]}]++
				}
			}
		}
		if len(owned) != tt.nx*tt.ny {
			t.Errorf("%d) Expected %d owned vertices, got %d.", i, tt.nx*tt.ny, len(owned))
		}
		for c, n := range owned {
			if n != 1 {
				t.Errorf("%d) Vertex %v owned %d times.", i, c, n)
			}
		}
	}

	for _, bad := range [][3]int{{0, 3, 1}, {3, 0, 1}, {3, 3, 0}, {3, 3, 4}} {
		_, err := NewGrid(bad[0], bad[1], bad[2], 0)
		assert.Error(t, err, "%v", bad)
	}
}

func TestGridIsShuffled(t *testing.T) {
	a, err := NewGrid(6, 6, 2, 1)
	require.NoError(t, err)
	b, err := NewGrid(6, 6, 2, 1)
	require.NoError(t, err)
	c, err := NewGrid(6, 6, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Parts[0].Coords, c.Parts[0].Coords)

	ids := make([]int, len(a.Parts[0].Coords))
	for i, c := range a.Parts[0].Coords {
		ids[i] = int(c[1])*6 + int(c[0])
	}
	assert.False(t, sort.IntsAreSorted(ids))
}

func TestValidate(t *testing.T) {
	good := func() *File {
		return &File{Dim: 1, Parts: []PartFile{
			{Coords: [][]float64{{0}, {1}}, OwnerRanks: []int{0, 1}, OwnerIndices: []int{0, 0}},
			{Coords: [][]float64{{1}, {0}}, OwnerRanks: []int{1, 0}, OwnerIndices: []int{0, 0}},
		}}
	}
	require.NoError(t, good().Validate())

	tests := []func(f *File){
		func(f *File) { f.Dim = 0 },
		func(f *File) { f.Parts = nil },
		func(f *File) { f.Parts[0].Coords = f.Parts[0].Coords[:1] },
		func(f *File) { f.Parts[0].Coords[1] = []float64{1, 2} },
		func(f *File) { f.Parts[0].OwnerRanks[1] = 2 },
		func(f *File) { f.Parts[0].OwnerIndices[1] = 2 },
		func(f *File) { f.Parts[0].OwnerIndices[1] = 1 },
		func(f *File) { f.Parts[0].OwnerRanks[0] = 1; f.Parts[1].OwnerRanks[0] = 0 },
	}
	for i := range tests {
		f := good()
		tests[i](f)
		if err := f.Validate(); err == nil {
			t.Errorf("%d) Expected an error.", i)
		}
	}
}

func TestReadWriteFile(t *testing.T) {
	f, err := NewGrid(5, 4, 3, 9)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, WriteFile(path, f))
	g, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, f, g)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRNG(t *testing.T) {
	gen := newRNG(42)
	counts := make([]int, 5)
	for i := 0; i < 5000; i++ {
		counts[gen.intn(5)]++
	}
	for i := range counts {
		assert.InDelta(t, 1000, counts[i], 150, "bucket %d", i)
	}
}

func TestOpen(t *testing.T) {
	f, err := NewGrid(8, 3, 4, 5)
	require.NoError(t, err)

	w, err := comm.NewWorld(3, nil, nil)
	require.NoError(t, err)
	_, err = Open(f, w.Comm(0), nil)
	assert.Error(t, err)

	w, err = comm.NewWorld(4, nil, logtest.New(t))
	require.NoError(t, err)
	m, err := Open(f, w.Comm(2), logtest.New(t))
	require.NoError(t, err)

	n, err := m.EntityCount(Vertex)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Len(t, m.Coords(), 12)
	assert.Equal(t, 2, m.Dim())

	_, err = m.EntityCount(Face)
	assert.Error(t, err)
	_, err = m.AskOwners(Edge)
	assert.Error(t, err)
	_, err = m.AskDistribution(context.Background(), Region)
	assert.Error(t, err)
}

func TestGridDistribution(t *testing.T) {
	const parts = 4
	f, err := NewGrid(13, 7, parts, 77)
	require.NoError(t, err)
	cd, err := codec.Get(codec.LZ4)
	require.NoError(t, err)
	w, err := comm.NewWorld(parts, cd, logtest.New(t))
	require.NoError(t, err)

	plans := make([]*plan.Plan, parts)
	err = w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		m, err := Open(f, c, logtest.New(t))
		if err != nil {
			return err
		}
		p, err := m.AskDistribution(ctx, Vertex)
		if err != nil {
			return err
		}
		again, err := m.AskDistribution(ctx, Vertex)
		if err != nil {
			return err
		}
		assert.Same(t, p, again)
		plans[c.Rank()] = p

		owners, err := m.AskOwners(Vertex)
		if err != nil {
			return err
		}
		pool := thread.New(2, nil)
		mf := field.NewMeshField[float64](pool, nil)
		tag, fld, err := mf.MakeField(field.ComponentMajor, owners.Len(), 2)
		if err != nil {
			return err
		}
		fld.Fill(float64(c.Rank()))
		if err := exchange.Sync(ctx, c, mf, tag, p); err != nil {
			return err
		}
		return exchange.VerifyGlobal(ctx, c, pool, fld, owners)
	})
	require.NoError(t, err)

	for r := 0; r < parts; r++ {
		for s := 0; s < parts; s++ {
			assert.Equal(t, plans[r].SendCount(s), plans[s].RecvCount(r), "%d -> %d", r, s)
		}
	}
	assert.Equal(t, []int{1}, plans[0].Neighbors())
	assert.Equal(t, []int{0, 2}, plans[1].Neighbors())
	assert.Equal(t, 7, plans[1].SendCount(0))
}
