package mesh

// rng is an xorshift random number generator. It is not thread safe.
type rng struct {
	w, x, y, z uint32
}

func newRNG(seed uint64) *rng {
	return &rng{uint32(seed) ^ uint32(seed>>32), 123456789, 362436069, 521288629}
}

func (gen *rng) next() uint32 {
	t := gen.x ^ (gen.x << 11)
	gen.x, gen.y, gen.z = gen.y, gen.z, gen.w
	gen.w = gen.w ^ (gen.w >> 19) ^ (t ^ (t >> 8))
	return gen.w
}

// intn returns a number in [0, n).
func (gen *rng) intn(n int) int {
	return int(uint64(gen.next()) * uint64(n) >> 32)
}

// shuffle randomly permutes x.
func (gen *rng) shuffle(x []int) {
	for i := len(x) - 1; i > 0; i-- {
		j := gen.intn(i + 1)
		x[i], x[j] = x[j], x[i]
	}
}
