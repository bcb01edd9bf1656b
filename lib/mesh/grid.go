package mesh

/* This file generates partitioned structured grids. */

import (
	"fmt"
)

// NewGrid creates a mesh of nx by ny vertices on a unit-spaced lattice, split
// into parts vertical strips. Each part owns the columns of its strip and
// holds a ghost copy of the column on either side of it. The order of the
// vertices within each part is shuffled using seed.
func NewGrid(nx, ny, parts int, seed uint64) (*File, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("grid must be at least 1 x 1, not %d x %d", nx, ny)
	}
	if parts < 1 || parts > nx {
		return nil, fmt.Errorf("a grid with %d columns cannot be split into %d parts", nx, parts)
	}

	start := func(p int) int { return p * nx / parts }
	ownerOf := make([]int, nx)
	for p := 0; p < parts; p++ {
		for x := start(p); x < start(p+1); x++ {
			ownerOf[x] = p
		}
	}

	// Global vertex ids seen by every part, in shuffled order.
	gen := newRNG(seed)
	ids := make([][]int, parts)
	local := make([]map[int]int, parts)
	for p := range ids {
		lo, hi := start(p), start(p+1)
		if p > 0 {
			lo--
		}
		if p < parts-1 {
			hi++
		}
		for x := lo; x < hi; x++ {
			for y := 0; y < ny; y++ {
				ids[p] = append(ids[p], y*nx+x)
			}
		}
		gen.shuffle(ids[p])

		local[p] = make(map[int]int, len(ids[p]))
		for i, g := range ids[p] {
			local[p][g] = i
		}
	}

	f := &File{Dim: 2, Parts: make([]PartFile, parts)}
	for p := range f.Parts {
		n := len(ids[p])
		part := PartFile{
			Coords:       make([][]float64, n),
			OwnerRanks:   make([]int, n),
			OwnerIndices: make([]int, n),
		}
		for i, g := range ids[p] {
			x, y := g%nx, g/nx
			owner := ownerOf[x]
			part.Coords[i] = []float64{float64(x), float64(y)}
			part.OwnerRanks[i] = owner
			part.OwnerIndices[i] = local[owner][g]
		}
		f.Parts[p] = part
	}
	return f, nil
}
