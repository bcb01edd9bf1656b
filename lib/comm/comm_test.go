package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/log/logtest"
)

// message returns the payload src sends to dst in round i.
func message(src, dst, i int) []byte {
	if (src+dst+i)%3 == 0 {
		return nil
	}
	return []byte(fmt.Sprintf("%d->%d #%d", src, dst, i))
}

// exchangeRounds runs several Alltoallv calls and checks what arrives.
func exchangeRounds(ctx context.Context, c Communicator, rounds int) error {
	for i := 0; i < rounds; i++ {
		send := make([][]byte, c.Size())
		for dst := range send {
			send[dst] = message(c.Rank(), dst, i)
		}
		recv, err := c.Alltoallv(ctx, send)
		if err != nil {
			return err
		}
		if len(recv) != c.Size() {
			return fmt.Errorf("rank %d got %d payloads", c.Rank(), len(recv))
		}
		for src := range recv {
			want := message(src, c.Rank(), i)
			if string(recv[src]) != string(want) {
				return fmt.Errorf("rank %d round %d: got %q from %d, expected %q",
					c.Rank(), i, recv[src], src, want)
			}
		}
	}
	return nil
}

func TestWorldAlltoallv(t *testing.T) {
	for _, name := range []codec.Compression{codec.None, codec.Zstd, codec.LZ4, codec.S2} {
		for _, size := range []int{1, 2, 5} {
			cd, err := codec.Get(name)
			require.NoError(t, err)
			w, err := NewWorld(size, cd, logtest.New(t))
			require.NoError(t, err)

			err = w.Run(context.Background(), func(ctx context.Context, c Communicator) error {
				return exchangeRounds(ctx, c, 10)
			})
			assert.NoError(t, err, "codec %s, %d ranks", name, size)
		}
	}
}

func TestWorldCollectives(t *testing.T) {
	w, err := NewWorld(4, nil, logtest.New(t))
	require.NoError(t, err)

	sums := make([]float64, 4)
	gathered := make([][]float64, 4)
	err = w.Run(context.Background(), func(ctx context.Context, c Communicator) error {
		if err := Barrier(ctx, c); err != nil {
			return err
		}
		sum, err := AllreduceSum(ctx, c, float64(c.Rank()+1))
		if err != nil {
			return err
		}
		all, err := Allgather(ctx, c, float64(10*c.Rank()))
		if err != nil {
			return err
		}
		sums[c.Rank()], gathered[c.Rank()] = sum, all
		return nil
	})
	require.NoError(t, err)

	for r := 0; r < 4; r++ {
		assert.Equal(t, 10.0, sums[r])
		assert.Equal(t, []float64{0, 10, 20, 30}, gathered[r])
	}
}

func TestWorldErrorReleasesPeers(t *testing.T) {
	w, err := NewWorld(3, nil, logtest.New(t))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = w.Run(context.Background(), func(ctx context.Context, c Communicator) error {
		if c.Rank() == 1 {
			return boom
		}
		// Never completes without rank 1.
		return Barrier(ctx, c)
	})
	assert.ErrorIs(t, err, boom)
}

func TestWorldRejectsBadArguments(t *testing.T) {
	_, err := NewWorld(0, nil, nil)
	assert.Error(t, err)

	w, err := NewWorld(2, nil, nil)
	require.NoError(t, err)
	_, err = w.Comm(0).Alltoallv(context.Background(), make([][]byte, 3))
	assert.Error(t, err)
	assert.Panics(t, func() { w.Comm(2) })
}

// dialMesh starts size TCP ranks on loopback listeners.
func dialMesh(t *testing.T, size int, name codec.Compression) []*TCP {
	t.Helper()
	cd, err := codec.Get(name)
	require.NoError(t, err)

	lns := make([]net.Listener, size)
	peers := make([]string, size)
	for r := range lns {
		lns[r], err = net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		peers[r] = lns[r].Addr().String()
	}

	comms := make([]*TCP, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			comms[r], errs[r] = DialTCP(context.Background(), TCPConfig{
				Rank: r, Peers: peers, Listener: lns[r], Codec: cd,
				DialTimeout: 5 * time.Second, Log: logtest.New(t),
			})
		}(r)
	}
	wg.Wait()

	for r := range errs {
		require.NoError(t, errs[r], "rank %d", r)
	}
	t.Cleanup(func() {
		for _, c := range comms {
			c.Close()
		}
	})
	return comms
}

// runTCP calls fn on every rank concurrently.
func runTCP(comms []*TCP, fn func(ctx context.Context, c Communicator) error) []error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for r := range comms {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = fn(ctx, comms[r])
		}(r)
	}
	wg.Wait()
	return errs
}

func TestTCPAlltoallv(t *testing.T) {
	for _, name := range []codec.Compression{codec.None, codec.S2} {
		comms := dialMesh(t, 4, name)
		errs := runTCP(comms, func(ctx context.Context, c Communicator) error {
			if err := exchangeRounds(ctx, c, 10); err != nil {
				return err
			}
			sum, err := AllreduceSum(ctx, c, 1)
			if err == nil && sum != 4 {
				err = fmt.Errorf("rank %d: sum = %g", c.Rank(), sum)
			}
			return err
		})
		for r := range errs {
			assert.NoError(t, errs[r], "codec %s, rank %d", name, r)
		}
	}
}

func TestTCPSingleRank(t *testing.T) {
	comms := dialMesh(t, 1, codec.None)
	recv, err := comms[0].Alltoallv(context.Background(), [][]byte{[]byte("self")})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("self")}, recv)
}

func TestTCPPeerLoss(t *testing.T) {
	comms := dialMesh(t, 2, codec.None)
	require.NoError(t, comms[1].Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := comms[0].Alltoallv(ctx, make([][]byte, 2))
	assert.Error(t, err)
}

func TestTCPHandshakeTimeout(t *testing.T) {
	const timeout = 200 * time.Millisecond

	// Rank 0 waits for a rank 1 which connects but never says hello.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := DialTCP(context.Background(), TCPConfig{
			Rank: 0, Peers: []string{ln.Addr().String(), "127.0.0.1:1"},
			Listener: ln, DialTimeout: timeout, Log: logtest.New(t),
		})
		done <- err
	}()
	mute, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer mute.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(15 * timeout):
		t.Fatal("accepting rank ignored its dial timeout")
	}

	// Rank 1 dials a rank 0 which accepts but never answers.
	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()
	go func() {
		for {
			conn, err := silent.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	go func() {
		_, err := DialTCP(context.Background(), TCPConfig{
			Rank: 1, Peers: []string{silent.Addr().String(), "127.0.0.1:0"},
			DialTimeout: timeout, Log: logtest.New(t),
		})
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(15 * timeout):
		t.Fatal("dialing rank ignored its dial timeout")
	}
}

func TestParseHello(t *testing.T) {
	c := &TCP{rank: 3, size: 7}
	rank, size, err := parseHello(c.hello())
	require.NoError(t, err)
	assert.Equal(t, 3, rank)
	assert.Equal(t, 7, size)

	_, _, err = parseHello([]byte("hello, world"))
	assert.Error(t, err)
}
