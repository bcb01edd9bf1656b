package exchange

/* This file contains the owner-consistency check. */

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/meshsync/lib/comm"
	merror "github.com/phil-mansfield/meshsync/lib/error"
	"github.com/phil-mansfield/meshsync/lib/field"
	"github.com/phil-mansfield/meshsync/lib/plan"
	"github.com/phil-mansfield/meshsync/lib/thread"
)

// Verify checks that every component of every entity in f equals the rank
// which owns that entity. This holds after a Sync if each rank filled the
// field with its own rank beforehand.
func Verify[T field.Scalar](pool *thread.Pool, f *field.Field[T], owners *plan.OwnershipTable) error {
	residual, err := ownerResidual(pool, f, owners)
	if err != nil || residual == 0 {
		return err
	}
	return mismatch(f, owners)
}

// VerifyGlobal runs Verify on every rank and combines the results, so every
// rank returns an error if any rank finds a mismatch. It is collective.
func VerifyGlobal[T field.Scalar](ctx context.Context, c comm.Communicator, pool *thread.Pool, f *field.Field[T], owners *plan.OwnershipTable) error {
	residual, err := ownerResidual(pool, f, owners)
	if err != nil {
		return err
	}
	total, err := comm.AllreduceSum(ctx, c, residual)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	if residual != 0 {
		return mismatch(f, owners)
	}
	return fmt.Errorf("%w: another rank has values which disagree with their owners", merror.ErrOwnerConsistency)
}

// ownerResidual returns the sum of |value - owner rank| over every component
// of every entity.
func ownerResidual[T field.Scalar](pool *thread.Pool, f *field.Field[T], owners *plan.OwnershipTable) (float64, error) {
	if f.Shape().Entities() != owners.Len() {
		return 0, fmt.Errorf("%w: field has %d entities, but the ownership table has %d",
			merror.ErrShapeMismatch, f.Shape().Entities(), owners.Len())
	}
	v := f.View()
	return pool.Reduce(0, v.Entities(), func(i int) float64 {
		vals := make([]float64, v.Width())
		for c := range vals {
			vals[c] = float64(v.At(i, c))
		}
		floats.AddConst(-float64(owners.OwnerRank(i)), vals)
		return floats.Norm(vals, 1)
	}, "exchange.verify"), nil
}

// mismatch describes the entities of f which disagree with their owners.
func mismatch[T field.Scalar](f *field.Field[T], owners *plan.OwnershipTable) error {
	v := f.View()
	n, first, firstVal := 0, -1, T(0)
	for i := 0; i < v.Entities(); i++ {
		for c := 0; c < v.Width(); c++ {
			if float64(v.At(i, c)) != float64(owners.OwnerRank(i)) {
				if first < 0 {
					first, firstVal = i, v.At(i, c)
				}
				n++
				break
			}
		}
	}
	return fmt.Errorf("%w: rank %d has %d entities which disagree with their owners; entity %d holds %v, but is owned by rank %d",
		merror.ErrOwnerConsistency, owners.Rank(), n, first, firstVal, owners.OwnerRank(first))
}
