package comm

/* This file contains World, which runs every rank inside the current process. */

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/log"
)

// linkDepth is the number of messages which can be in flight on one ordered
// pair of ranks before the sender blocks.
const linkDepth = 4

// World is a set of in-process ranks. links[src][dst] carries messages from
// src to dst in order.
type World struct {
	size  int
	codec codec.Codec
	log   *zap.Logger
	links [][]chan []byte

	once sync.Once
	done chan struct{}
}

// NewWorld creates a World with the given number of ranks. Messages between
// ranks are sealed with c, just as they would be on a network.
func NewWorld(size int, c codec.Codec, l *zap.Logger) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("a World needs at least one rank, not %d", size)
	}
	if c == nil {
		c, _ = codec.Get(codec.None)
	}

	links := make([][]chan []byte, size)
	for src := range links {
		links[src] = make([]chan []byte, size)
		for dst := range links[src] {
			if src != dst {
				links[src][dst] = make(chan []byte, linkDepth)
			}
		}
	}
	return &World{
		size: size, codec: c, log: log.OrNop(l), links: links,
		done: make(chan struct{}),
	}, nil
}

// Size returns the number of ranks in the World.
func (w *World) Size() int { return w.size }

// Comm returns the Communicator for a single rank.
func (w *World) Comm(rank int) Communicator {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("rank %d is outside a World of %d ranks", rank, w.size))
	}
	return &local{world: w, rank: rank}
}

// Run calls fn once per rank, each on its own goroutine, and waits for all of
// them. The first error cancels the context passed to the others and shuts the
// World down so that ranks blocked in a collective are released. It is
// returned from Run.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Communicator) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < w.size; r++ {
		c := w.Comm(r)
		g.Go(func() error {
			err := fn(ctx, c)
			if err != nil {
				w.log.Debug("rank failed", zap.Int("rank", c.Rank()), zap.Error(err))
				w.shutdown()
			}
			return err
		})
	}
	return g.Wait()
}

func (w *World) shutdown() { w.once.Do(func() { close(w.done) }) }

// local is one rank of a World.
type local struct {
	world *World
	rank  int
}

func (c *local) Rank() int { return c.rank }
func (c *local) Size() int { return c.world.size }

func (c *local) Alltoallv(ctx context.Context, send [][]byte) ([][]byte, error) {
	if err := checkSend(c, send); err != nil {
		return nil, err
	}
	w := c.world
	recv := make([][]byte, w.size)
	recv[c.rank] = send[c.rank]

	for dst := 0; dst < w.size; dst++ {
		if dst == c.rank {
			continue
		}
		frame, err := codec.Seal(w.codec, send[dst])
		if err != nil {
			return nil, err
		}
		select {
		case w.links[c.rank][dst] <- frame:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.done:
			return nil, fmt.Errorf("rank %d: world shut down while sending to rank %d", c.rank, dst)
		}
	}

	for src := 0; src < w.size; src++ {
		if src == c.rank {
			continue
		}
		var frame []byte
		select {
		case frame = <-w.links[src][c.rank]:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.done:
			return nil, fmt.Errorf("rank %d: world shut down while receiving from rank %d", c.rank, src)
		}
		payload, err := codec.Open(w.codec, frame)
		if err != nil {
			return nil, fmt.Errorf("rank %d: message from rank %d: %w", c.rank, src, err)
		}
		recv[src] = payload
	}
	return recv, nil
}

func (c *local) Close() error { return nil }
