package field

/* This file contains Shape and Layout, which describe how a field's values are
indexed and how they are stored. */

import (
	"fmt"

	merror "github.com/phil-mansfield/meshsync/lib/error"
)

// MaxComponentRank is the largest number of component dimensions a field can
// have. A rank-0 field holds one scalar per entity, a rank-1 field a vector,
// a rank-2 field a matrix, and so on.
const MaxComponentRank = 3

// Layout is the physical ordering of a field's storage. It never changes the
// order of serialized buffers, which are always entity-major.
type Layout int

const (
	// EntityMajor stores all the components of an entity next to each
	// other.
	EntityMajor Layout = iota
	// ComponentMajor stores a single component of every entity next to each
	// other.
	ComponentMajor
)

func (l Layout) String() string {
	switch l {
	case EntityMajor:
		return "entity-major"
	case ComponentMajor:
		return "component-major"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// Shape is the number of entities in a field and the extent of each of its
// component dimensions.
type Shape struct {
	entities int
	rank     int
	comps    [MaxComponentRank]int
}

// NewShape returns the shape of a field with the given number of entities and
// component extents.
func NewShape(entities int, comps ...int) (Shape, error) {
	if entities < 0 {
		return Shape{}, fmt.Errorf("a field cannot have %d entities", entities)
	}
	if len(comps) > MaxComponentRank {
		return Shape{}, fmt.Errorf("a field can have at most %d component dimensions, but %d were given", MaxComponentRank, len(comps))
	}
	s := Shape{entities: entities, rank: len(comps)}
	for i, n := range comps {
		if n < 1 {
			return Shape{}, fmt.Errorf("component dimension %d has extent %d", i, n)
		}
		s.comps[i] = n
	}
	return s, nil
}

// Entities returns the number of entities.
func (s Shape) Entities() int { return s.entities }

// Rank returns the number of component dimensions.
func (s Shape) Rank() int { return s.rank }

// Components returns the extent of each component dimension.
func (s Shape) Components() []int {
	return append([]int(nil), s.comps[:s.rank]...)
}

// Width returns the number of scalars stored per entity.
func (s Shape) Width() int {
	w := 1
	for i := 0; i < s.rank; i++ {
		w *= s.comps[i]
	}
	return w
}

// Len returns the total number of scalars in the field.
func (s Shape) Len() int { return s.entities * s.Width() }

// Flat returns the row-major offset of a component tuple within an entity's
// values, i.e. the position it occupies in a serialized buffer relative to the
// start of the entity.
func (s Shape) Flat(comp ...int) (int, error) {
	if len(comp) != s.rank {
		return 0, fmt.Errorf("%w: %d component indices given to a rank-%d field", merror.ErrIndexOutOfRange, len(comp), s.rank)
	}
	c := 0
	for i, j := range comp {
		if j < 0 || j >= s.comps[i] {
			return 0, fmt.Errorf("%w: component %d of dimension %d, which has extent %d", merror.ErrIndexOutOfRange, j, i, s.comps[i])
		}
		c = c*s.comps[i] + j
	}
	return c, nil
}

func (s Shape) checkEntity(ent int) error {
	if ent < 0 || ent >= s.entities {
		return fmt.Errorf("%w: entity %d of a field with %d entities", merror.ErrIndexOutOfRange, ent, s.entities)
	}
	return nil
}

func (s Shape) String() string {
	return fmt.Sprintf("%d x %v", s.entities, s.comps[:s.rank])
}
