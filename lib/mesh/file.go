package mesh

/* This file contains the YAML mesh format. */

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is a partitioned point mesh. Each part holds the vertices one rank can
// see: the vertices it owns and ghost copies of vertices owned elsewhere.
type File struct {
	Dim   int        `yaml:"dim"`
	Parts []PartFile `yaml:"parts"`
}

// PartFile is the portion of a File seen by a single rank. The three arrays
// are parallel and indexed by local vertex.
type PartFile struct {
	Coords       [][]float64 `yaml:"coords,flow"`
	OwnerRanks   []int       `yaml:"owner_ranks,flow"`
	OwnerIndices []int       `yaml:"owner_indices,flow"`
}

// ReadFile reads and validates a mesh file.
func ReadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := &File{}
	if err := yaml.Unmarshal(b, f); err != nil {
		return nil, fmt.Errorf("parsing mesh file %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("mesh file %s: %w", path, err)
	}
	return f, nil
}

// WriteFile writes a mesh file.
func WriteFile(path string, f *File) error {
	b, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks that the file describes a consistent partition: every
// vertex has an owner which exists, and the owner's copy of the vertex is one
// it owns.
func (f *File) Validate() error {
	if f.Dim < 1 || f.Dim > 3 {
		return fmt.Errorf("dim is %d, but must be 1, 2, or 3", f.Dim)
	}
	if len(f.Parts) == 0 {
		return fmt.Errorf("no parts")
	}

	for p := range f.Parts {
		part := &f.Parts[p]
		n := len(part.OwnerRanks)
		if len(part.Coords) != n || len(part.OwnerIndices) != n {
			return fmt.Errorf("part %d has %d coordinates, %d owner ranks, and %d owner indices",
				p, len(part.Coords), n, len(part.OwnerIndices))
		}

		for i := 0; i < n; i++ {
			if len(part.Coords[i]) != f.Dim {
				return fmt.Errorf("vertex %d of part %d has %d coordinates in a %d-dimensional mesh", i, p, len(part.Coords[i]), f.Dim)
			}

			r, j := part.OwnerRanks[i], part.OwnerIndices[i]
			if r < 0 || r >= len(f.Parts) {
				return fmt.Errorf("vertex %d of part %d is owned by part %d, but there are %d parts", i, p, r, len(f.Parts))
			}
			owner := &f.Parts[r]
			if j < 0 || j >= len(owner.OwnerRanks) {
				return fmt.Errorf("vertex %d of part %d is vertex %d of part %d, which only has %d vertices", i, p, j, r, len(owner.OwnerRanks))
			}
			if owner.OwnerRanks[j] != r {
				return fmt.Errorf("vertex %d of part %d is vertex %d of part %d, which part %d does not own", i, p, j, r, r)
			}
			if r == p && j != i {
				return fmt.Errorf("vertex %d of part %d is owned by its own part, but points at vertex %d", i, p, j)
			}
		}
	}
	return nil
}
