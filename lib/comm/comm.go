/*package comm contains the collective communication substrate which exchanges
run over. Ranks are either goroutines inside one process (World) or separate
processes joined by TCP (TCP). Both deliver messages between each ordered pair
of ranks in FIFO order and both seal every message with a codec frame.

All operations here are collective: every rank of a communicator must call
them in the same order, or the ranks block forever. There are no timeouts. The
context passed to each call only exists so that blocked goroutines can be
released when a program shuts down.
*/
package comm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// Communicator connects one rank to its peers.
type Communicator interface {
	// Rank returns the rank of the caller, in [0, Size()).
	Rank() int
	// Size returns the number of ranks.
	Size() int
	// Alltoallv sends send[r] to rank r and returns the payload every rank
	// sent to the caller, indexed by source rank. len(send) must equal
	// Size(). Empty payloads are still delivered, so ranks with nothing to
	// say never stall their peers. send[Rank()] is returned unchanged.
	Alltoallv(ctx context.Context, send [][]byte) ([][]byte, error)
	// Close releases the communicator's resources.
	Close() error
}

// checkSend validates the argument to Alltoallv.
func checkSend(c Communicator, send [][]byte) error {
	if len(send) != c.Size() {
		return fmt.Errorf("rank %d passed %d payloads to Alltoallv, but the communicator has %d ranks", c.Rank(), len(send), c.Size())
	}
	return nil
}

// Barrier returns once every rank has called it.
func Barrier(ctx context.Context, c Communicator) error {
	_, err := c.Alltoallv(ctx, make([][]byte, c.Size()))
	return err
}

// AllreduceSum returns the sum of x across all ranks. Every rank receives the
// same value: contributions are added in rank order.
func AllreduceSum(ctx context.Context, c Communicator, x float64) (float64, error) {
	vals, err := Allgather(ctx, c, x)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum, nil
}

// Allgather returns every rank's x, indexed by rank.
func Allgather(ctx context.Context, c Communicator, x float64) ([]float64, error) {
	b := binary.LittleEndian.AppendUint64(nil, math.Float64bits(x))
	send := make([][]byte, c.Size())
	for r := range send {
		send[r] = b
	}

	recv, err := c.Alltoallv(ctx, send)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(recv))
	for r, p := range recv {
		if len(p) != 8 {
			return nil, fmt.Errorf("rank %d sent %d bytes to Allgather, expected 8", r, len(p))
		}
		out[r] = math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	return out, nil
}
