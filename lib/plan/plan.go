/*package plan contains the distribution plans which drive field exchanges.

A Plan lists, for each rank, the local entities whose values must be sent to
every other rank and the local slots which receive values from every other
rank. Rank r's send list to rank s and rank s's receive list from rank r have
the same length and the same order: the k-th value r sends lands in the k-th
slot s receives. The lists for a rank's own index (the self lane) route the
values a rank owns back into its own buffer.

Plans describe entities, not scalars. The same plan serves fields of any
width.
*/
package plan

import (
	"context"
	"fmt"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/comm"
	merror "github.com/phil-mansfield/meshsync/lib/error"
)

// Plan is the send and receive lists of a single rank.
type Plan struct {
	rank, size int
	entities   int
	send, recv [][]int
}

// New creates the plan for one rank. send[r] is the ordered list of local
// entities sent to rank r and recv[r] is the ordered list of local slots which
// values from rank r are written to. The lists are copied.
func New(rank, size, entities int, send, recv [][]int) (*Plan, error) {
	if size < 1 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d is outside a communicator of %d ranks", rank, size)
	}
	if len(send) != size || len(recv) != size {
		return nil, fmt.Errorf("plan for %d ranks has %d send lists and %d receive lists", size, len(send), len(recv))
	}
	if entities < 0 {
		return nil, fmt.Errorf("plan cannot cover %d entities", entities)
	}

	p := &Plan{
		rank: rank, size: size, entities: entities,
		send: make([][]int, size), recv: make([][]int, size),
	}
	for r := 0; r < size; r++ {
		if err := checkList(send[r], entities); err != nil {
			return nil, fmt.Errorf("send list for rank %d: %w", r, err)
		}
		if err := checkList(recv[r], entities); err != nil {
			return nil, fmt.Errorf("receive list for rank %d: %w", r, err)
		}
		p.send[r] = append([]int{}, send[r]...)
		p.recv[r] = append([]int{}, recv[r]...)
	}

	if len(p.send[rank]) != len(p.recv[rank]) {
		return nil, fmt.Errorf("rank %d sends %d entities to itself, but receives %d", rank, len(p.send[rank]), len(p.recv[rank]))
	}
	return p, nil
}

func checkList(idx []int, entities int) error {
	for k, i := range idx {
		if i < 0 || i >= entities {
			return fmt.Errorf("%w: entry %d is entity %d, but there are only %d entities", merror.ErrIndexOutOfRange, k, i, entities)
		}
	}
	return nil
}

func (p *Plan) Rank() int     { return p.rank }
func (p *Plan) Size() int     { return p.size }
func (p *Plan) Entities() int { return p.entities }

// SendCount returns the number of entities sent to rank dst.
func (p *Plan) SendCount(dst int) int { return len(p.send[dst]) }

// RecvCount returns the number of entities received from rank src.
func (p *Plan) RecvCount(src int) int { return len(p.recv[src]) }

// Neighbors returns, in ascending order, the other ranks which this rank
// sends to or receives from.
func (p *Plan) Neighbors() []int {
	out := []int{}
	for r := 0; r < p.size; r++ {
		if r != p.rank && (len(p.send[r]) > 0 || len(p.recv[r]) > 0) {
			out = append(out, r)
		}
	}
	return out
}

// Gather extracts the values each rank must be sent from an entity-major
// buffer with the given width. The result is indexed by destination rank.
func Gather[T codec.Scalar](p *Plan, buf []T, width int) [][]T {
	out := make([][]T, p.size)
	for dst := range out {
		out[dst] = make([]T, len(p.send[dst])*width)
		for k, i := range p.send[dst] {
			copy(out[dst][k*width:(k+1)*width], buf[i*width:(i+1)*width])
		}
	}
	return out
}

// Scatter writes the values received from each rank into out at the slots
// of the matching receive list. A payload whose length disagrees with the plan
// means the ranks were given inconsistent plans, which is a programming error,
// and Scatter panics.
func Scatter[T codec.Scalar](p *Plan, recv [][]T, width int, out []T) {
	merror.Check(len(recv) == p.size,
		"rank %d received %d payloads from a %d-rank plan", p.rank, len(recv), p.size)
	for src := range recv {
		merror.Check(len(recv[src]) == len(p.recv[src])*width,
			"rank %d received %d values from rank %d, but the plan expects %d entities of width %d",
			p.rank, len(recv[src]), src, len(p.recv[src]), width)
		for k, i := range p.recv[src] {
			copy(out[i*width:(i+1)*width], recv[src][k*width:(k+1)*width])
		}
	}
}

// Build creates the plan for the calling rank from its ownership table. It is
// collective: every rank of c must call it.
//
// Each rank asks every owner for the entities it holds copies of, listing
// their owner-local indices in ascending order of local index. The requests an
// owner receives become its send lists, so both sides agree on message order
// by construction.
func Build(ctx context.Context, c comm.Communicator, owners *OwnershipTable) (*Plan, error) {
	rank, size, n := c.Rank(), c.Size(), owners.Len()
	if owners.Rank() != rank {
		return nil, fmt.Errorf("ownership table for rank %d passed to rank %d", owners.Rank(), rank)
	}

	recv := make([][]int, size)
	want := make([][]int, size)
	for i := 0; i < n; i++ {
		r := owners.OwnerRank(i)
		if r >= size {
			return nil, fmt.Errorf("entity %d is owned by rank %d, but there are only %d ranks", i, r, size)
		}
		recv[r] = append(recv[r], i)
		want[r] = append(want[r], owners.OwnerIndex(i))
	}

	req := make([][]byte, size)
	for r := range req {
		req[r] = codec.EncodeScalars(want[r])
	}
	got, err := c.Alltoallv(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("exchanging plan requests: %w", err)
	}

	send := make([][]int, size)
	for r := range got {
		send[r], err = codec.DecodeScalars[int](got[r])
		if err != nil {
			return nil, fmt.Errorf("plan request from rank %d: %w", r, err)
		}
		for _, i := range send[r] {
			if i < 0 || i >= n {
				return nil, fmt.Errorf("rank %d requested entity %d, but rank %d only has %d entities", r, i, rank, n)
			}
			if !owners.Owns(i) {
				return nil, fmt.Errorf("rank %d requested entity %d from rank %d, which is owned by rank %d", r, i, rank, owners.OwnerRank(i))
			}
		}
	}

	return New(rank, size, n, send, recv)
}
