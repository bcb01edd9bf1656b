/*package field contains the containers which hold values attached to mesh
entities. A Field maps an entity index and a tuple of up to MaxComponentRank
component indices to a scalar. Fields can be flattened into, and rebuilt from,
entity-major buffers, which are the unit of exchange between ranks.

A Field owns its storage. Work dispatched to a thread.Pool should capture a
View instead, which is a small value that can be copied freely.
*/
package field

import (
	"fmt"

	"github.com/phil-mansfield/meshsync/lib/codec"
	merror "github.com/phil-mansfield/meshsync/lib/error"
	"github.com/phil-mansfield/meshsync/lib/thread"
)

// Scalar is the set of types a Field can hold.
type Scalar interface {
	codec.Scalar
}

// Field is a fixed-shape array of values attached to mesh entities.
type Field[T Scalar] struct {
	shape  Shape
	layout Layout
	data   []T
}

// New allocates a zeroed field with the given layout and shape.
func New[T Scalar](layout Layout, entities int, comps ...int) (*Field[T], error) {
	if layout != EntityMajor && layout != ComponentMajor {
		return nil, fmt.Errorf("unrecognized layout %d", int(layout))
	}
	shape, err := NewShape(entities, comps...)
	if err != nil {
		return nil, err
	}
	return &Field[T]{shape: shape, layout: layout, data: make([]T, shape.Len())}, nil
}

func (f *Field[T]) Shape() Shape   { return f.shape }
func (f *Field[T]) Layout() Layout { return f.layout }

// View returns a non-owning view of the field's storage.
func (f *Field[T]) View() View[T] {
	return View[T]{
		data: f.data, entities: f.shape.entities,
		width: f.shape.Width(), layout: f.layout,
	}
}

// Get returns the value of a single component of an entity.
func (f *Field[T]) Get(ent int, comp ...int) (T, error) {
	i, err := f.offset(ent, comp)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.data[i], nil
}

// Set changes the value of a single component of an entity.
func (f *Field[T]) Set(x T, ent int, comp ...int) error {
	i, err := f.offset(ent, comp)
	if err != nil {
		return err
	}
	f.data[i] = x
	return nil
}

func (f *Field[T]) offset(ent int, comp []int) (int, error) {
	if err := f.shape.checkEntity(ent); err != nil {
		return 0, err
	}
	c, err := f.shape.Flat(comp...)
	if err != nil {
		return 0, err
	}
	return f.View().index(ent, c), nil
}

// Fill sets every value in the field to x.
func (f *Field[T]) Fill(x T) {
	for i := range f.data {
		f.data[i] = x
	}
}

// Serialize returns the field's values in a new entity-major buffer: the value
// of component c of entity i is at i*Width() + c, with c the row-major
// flattening of the component tuple. The result does not depend on the
// field's Layout.
func (f *Field[T]) Serialize() []T { return f.serialize(thread.Serial()) }

// Deserialize overwrites the field's values from an entity-major buffer. It
// is the inverse of Serialize.
func (f *Field[T]) Deserialize(buf []T) error { return f.deserialize(thread.Serial(), buf) }

func (f *Field[T]) serialize(pool *thread.Pool) []T {
	out := make([]T, len(f.data))
	if f.layout == EntityMajor {
		copy(out, f.data)
		return out
	}

	v, width := f.View(), f.shape.Width()
	pool.Range(0, f.shape.entities, func(i int) {
		for c := 0; c < width; c++ {
			out[i*width+c] = v.At(i, c)
		}
	}, "field.serialize")
	return out
}

func (f *Field[T]) deserialize(pool *thread.Pool, buf []T) error {
	if len(buf) != len(f.data) {
		return fmt.Errorf("%w: buffer has %d values, but a field with shape %s needs %d",
			merror.ErrShapeMismatch, len(buf), f.shape, len(f.data))
	}
	if f.layout == EntityMajor {
		copy(f.data, buf)
		return nil
	}

	v, width := f.View(), f.shape.Width()
	pool.Range(0, f.shape.entities, func(i int) {
		for c := 0; c < width; c++ {
			v.Put(i, c, buf[i*width+c])
		}
	}, "field.deserialize")
	return nil
}

// Component copies one component of every entity into a new array, indexed by
// entity.
func (f *Field[T]) Component(comp ...int) ([]T, error) {
	c, err := f.shape.Flat(comp...)
	if err != nil {
		return nil, err
	}
	v := f.View()
	out := make([]T, f.shape.entities)
	for i := range out {
		out[i] = v.At(i, c)
	}
	return out, nil
}

// View is a copyable window onto a Field's storage. Components are addressed
// by their flattened offset (see Shape.Flat). Accesses are only checked by
// Go's slice bounds.
type View[T Scalar] struct {
	data     []T
	entities int
	width    int
	layout   Layout
}

func (v View[T]) index(ent, c int) int {
	if v.layout == EntityMajor {
		return ent*v.width + c
	}
	return c*v.entities + ent
}

// At returns component c of entity ent.
func (v View[T]) At(ent, c int) T { return v.data[v.index(ent, c)] }

// Put sets component c of entity ent to x.
func (v View[T]) Put(ent, c int, x T) { v.data[v.index(ent, c)] = x }

// Entities returns the number of entities in the viewed field.
func (v View[T]) Entities() int { return v.entities }

// Width returns the number of components per entity.
func (v View[T]) Width() int { return v.width }
