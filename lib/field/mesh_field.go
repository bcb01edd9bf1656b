package field

/* This file contains MeshField, which groups the fields of a mesh under
integer tags. */

import (
	"fmt"

	"go.uber.org/zap"

	merror "github.com/phil-mansfield/meshsync/lib/error"
	"github.com/phil-mansfield/meshsync/lib/log"
	"github.com/phil-mansfield/meshsync/lib/thread"
)

// MeshField is a collection of independently shaped fields which share a
// value type and an execution pool. Each field is identified by the tag
// returned when it was made. Tags are assigned in creation order starting at
// zero and never change.
type MeshField[T Scalar] struct {
	pool   *thread.Pool
	log    *zap.Logger
	fields []*Field[T]
}

// NewMeshField creates an empty MeshField which runs bulk work on pool. A nil
// pool runs everything on the calling goroutine.
func NewMeshField[T Scalar](pool *thread.Pool, l *zap.Logger) *MeshField[T] {
	if pool == nil {
		pool = thread.Serial()
	}
	return &MeshField[T]{pool: pool, log: log.OrNop(l)}
}

// MakeField allocates a new field and returns its tag.
func (mf *MeshField[T]) MakeField(layout Layout, entities int, comps ...int) (int, *Field[T], error) {
	f, err := New[T](layout, entities, comps...)
	if err != nil {
		return 0, nil, err
	}
	tag := len(mf.fields)
	mf.fields = append(mf.fields, f)
	mf.log.Debug("made field", zap.Int("tag", tag),
		zap.Stringer("shape", f.shape), zap.Stringer("layout", layout))
	return tag, f, nil
}

// Len returns the number of fields.
func (mf *MeshField[T]) Len() int { return len(mf.fields) }

// Pool returns the pool used for bulk work.
func (mf *MeshField[T]) Pool() *thread.Pool { return mf.pool }

// Field returns the field with the given tag.
func (mf *MeshField[T]) Field(tag int) (*Field[T], error) {
	if tag < 0 || tag >= len(mf.fields) {
		return nil, fmt.Errorf("%w: tag %d, but only %d fields exist", merror.ErrIndexOutOfRange, tag, len(mf.fields))
	}
	return mf.fields[tag], nil
}

// Serialize returns the entity-major buffer for the field with the given tag.
func (mf *MeshField[T]) Serialize(tag int) ([]T, error) {
	f, err := mf.Field(tag)
	if err != nil {
		return nil, err
	}
	return f.serialize(mf.pool), nil
}

// Deserialize overwrites the field with the given tag from an entity-major
// buffer.
func (mf *MeshField[T]) Deserialize(tag int, buf []T) error {
	f, err := mf.Field(tag)
	if err != nil {
		return err
	}
	return f.deserialize(mf.pool, buf)
}

// ParallelFor calls fn(i) for every i in [lo, hi) on the MeshField's pool.
// There is no ordering between calls, so fn must not let one index depend on
// another. fn should capture Views rather than Fields.
func (mf *MeshField[T]) ParallelFor(lo, hi int, fn func(i int), label string) {
	mf.pool.Range(lo, hi, fn, label)
}
