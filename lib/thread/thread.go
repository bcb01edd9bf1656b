/*package thread contains the execution collaborator used by fields and by the
verification code: a Pool which runs independent per-entity work over an index
range on any number of goroutines.
*/
package thread

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/meshsync/lib/log"
)

// Set sets the number of threads the Go runtime may use. If n is negative,
// every core is used.
func Set(n int) error {
	if n < 0 {
		n = runtime.NumCPU()
	} else if n == 0 || n > runtime.NumCPU() {
		return fmt.Errorf("%d threads requested, but your system only has %d cores. If you want meshsync to use every core, set threads = -1.", n, runtime.NumCPU())
	}
	runtime.GOMAXPROCS(n)
	return nil
}

// Pool dispatches data-parallel work. A Pool is safe for concurrent use; it
// holds no state between calls.
type Pool struct {
	workers int
	log     *zap.Logger
}

// New creates a Pool which splits work across the given number of goroutines.
// A non-positive worker count means one worker per available thread.
func New(workers int, l *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers, log: log.OrNop(l)}
}

// Serial returns a single-worker Pool.
func Serial() *Pool { return New(1, nil) }

// Workers returns the maximum number of goroutines used by a single call.
func (p *Pool) Workers() int { return p.workers }

// chunks splits [lo, hi) into at most p.workers contiguous pieces.
func (p *Pool) chunks(lo, hi int) [][2]int {
	n := hi - lo
	if n <= 0 {
		return nil
	}
	k := p.workers
	if k > n {
		k = n
	}
	out := make([][2]int, k)
	for c := range out {
		out[c] = [2]int{lo + c*n/k, lo + (c+1)*n/k}
	}
	return out
}

// Range calls fn(i) for every i in [lo, hi). Calls may happen in any order and
// on any goroutine, so each call must be independent of the others. label is
// only used for diagnostics.
func (p *Pool) Range(lo, hi int, fn func(i int), label string) {
	chunks := p.chunks(lo, hi)
	p.log.Debug("range", zap.String("label", label),
		zap.Int("lo", lo), zap.Int("hi", hi), zap.Int("chunks", len(chunks)))
	if len(chunks) == 1 {
		for i := lo; i < hi; i++ {
			fn(i)
		}
		return
	}

	var g errgroup.Group
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			for i := c[0]; i < c[1]; i++ {
				fn(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Reduce returns the sum of fn(i) over [lo, hi). Each worker accumulates its
// own partial sum, and the partials are added at the end, so the result is
// exact for integer-valued terms.
func (p *Pool) Reduce(lo, hi int, fn func(i int) float64, label string) float64 {
	chunks := p.chunks(lo, hi)
	p.log.Debug("reduce", zap.String("label", label),
		zap.Int("lo", lo), zap.Int("hi", hi), zap.Int("chunks", len(chunks)))

	partial := make([]float64, len(chunks))
	var g errgroup.Group
	for c := range chunks {
		c := c
		g.Go(func() error {
			sum := 0.0
			for i := chunks[c][0]; i < chunks[c][1]; i++ {
				sum += fn(i)
			}
			partial[c] = sum
			return nil
		})
	}
	_ = g.Wait()
	return floats.Sum(partial)
}
