/*package exchange synchronizes ghost copies of field values with their
owners.

Exchange is a collective: every rank of a communicator calls it with the same
sequence of plans. Values travel as entity-major buffers (see field.Field's
Serialize), so the same plan serves fields of every width.
*/
package exchange

import (
	"context"
	"fmt"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/comm"
	merror "github.com/phil-mansfield/meshsync/lib/error"
	"github.com/phil-mansfield/meshsync/lib/field"
	"github.com/phil-mansfield/meshsync/lib/plan"
)

// Exchange returns a copy of buf in which every entity holds its owner's
// value. buf is an entity-major buffer with width values per entity and is
// not modified.
//
// Entities this rank owns keep their values. Entities which no other rank
// sends to this rank pass through unchanged. Every rank takes part in the
// underlying all-to-all even if it has nothing to send.
func Exchange[T field.Scalar](ctx context.Context, c comm.Communicator, p *plan.Plan, buf []T, width int) ([]T, error) {
	if width < 1 {
		return nil, fmt.Errorf("%w: width %d", merror.ErrPlanBufferMismatch, width)
	}
	if p.Rank() != c.Rank() || p.Size() != c.Size() {
		return nil, fmt.Errorf("%w: plan for rank %d of %d used by rank %d of %d",
			merror.ErrPlanBufferMismatch, p.Rank(), p.Size(), c.Rank(), c.Size())
	}
	if len(buf) != p.Entities()*width {
		return nil, fmt.Errorf("%w: buffer has %d values, but a plan over %d entities with width %d needs %d",
			merror.ErrPlanBufferMismatch, len(buf), p.Entities(), width, p.Entities()*width)
	}

	rank := c.Rank()
	payload := plan.Gather(p, buf, width)
	send := make([][]byte, len(payload))
	for r := range payload {
		if r != rank {
			send[r] = codec.EncodeScalars(payload[r])
		}
	}

	got, err := c.Alltoallv(ctx, send)
	if err != nil {
		return nil, err
	}

	recv := make([][]T, len(got))
	recv[rank] = payload[rank]
	for r := range got {
		if r == rank {
			continue
		}
		if recv[r], err = codec.DecodeScalars[T](got[r]); err != nil {
			return nil, fmt.Errorf("values from rank %d: %w", r, err)
		}
	}

	out := append([]T(nil), buf...)
	plan.Scatter(p, recv, width, out)
	return out, nil
}

// Sync brings every ghost value of the field with the given tag in line with
// its owner. It serializes the field, exchanges the buffer, and writes the
// result back.
func Sync[T field.Scalar](ctx context.Context, c comm.Communicator, mf *field.MeshField[T], tag int, p *plan.Plan) error {
	f, err := mf.Field(tag)
	if err != nil {
		return err
	}
	buf, err := mf.Serialize(tag)
	if err != nil {
		return err
	}
	out, err := Exchange(ctx, c, p, buf, f.Shape().Width())
	if err != nil {
		return fmt.Errorf("field %d: %w", tag, err)
	}
	return mf.Deserialize(tag, out)
}
