package comm

/* This file contains TCP, which connects ranks running in separate processes. */

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-msgio"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/log"
)

const (
	// DefaultMaxMessageSize is the largest frame a TCP communicator accepts
	// unless told otherwise.
	DefaultMaxMessageSize = 1 << 30
	// DefaultDialTimeout bounds how long DialTCP waits for peers to come up.
	DefaultDialTimeout = 10 * time.Second

	handshakeMagic uint32 = 0x4d534853 // "MSHS"
	dialRetry             = 50 * time.Millisecond
)

// TCPConfig describes one rank of a TCP communicator.
type TCPConfig struct {
	// Rank is the rank of this process.
	Rank int
	// Peers is the address of every rank, indexed by rank.
	Peers []string
	// Listener, if set, is used instead of listening on Peers[Rank]. It is
	// closed by TCP.Close.
	Listener net.Listener
	// Codec seals every message. Every rank must use the same one.
	Codec codec.Codec
	// DialTimeout bounds connection set-up. Zero means DefaultDialTimeout.
	DialTimeout time.Duration
	// MaxMessageSize bounds incoming frames. Zero means
	// DefaultMaxMessageSize.
	MaxMessageSize int
	Log            *zap.Logger
}

// TCP is a Communicator whose ranks are joined by a full mesh of TCP
// connections. Rank r dials every rank below it and accepts connections from
// every rank above it.
type TCP struct {
	rank, size int
	codec      codec.Codec
	log        *zap.Logger
	ln         net.Listener

	conns   []net.Conn
	writers []msgio.WriteCloser
	inbox   []chan []byte
	readErr []error

	readers   sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

var _ Communicator = &TCP{}

// DialTCP connects to every peer and returns once the full mesh is up.
func DialTCP(ctx context.Context, cfg TCPConfig) (*TCP, error) {
	size := len(cfg.Peers)
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, fmt.Errorf("rank %d is outside a peer list of %d addresses", cfg.Rank, size)
	}
	if cfg.Codec == nil {
		cfg.Codec, _ = codec.Get(codec.None)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	ln := cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.Peers[cfg.Rank])
		if err != nil {
			return nil, fmt.Errorf("rank %d listening on %s: %w", cfg.Rank, cfg.Peers[cfg.Rank], err)
		}
	}

	c := &TCP{
		rank: cfg.Rank, size: size, codec: cfg.Codec,
		log: log.ForRank(cfg.Log, cfg.Rank), ln: ln,
		conns: make([]net.Conn, size), writers: make([]msgio.WriteCloser, size),
		inbox: make([]chan []byte, size), readErr: make([]error, size),
		done: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := c.connect(ctx, cfg.Peers); err != nil {
		c.Close()
		return nil, err
	}

	for peer := range c.conns {
		if peer == c.rank {
			continue
		}
		c.inbox[peer] = make(chan []byte, linkDepth)
		c.writers[peer] = msgio.NewVarintWriter(c.conns[peer])
		rd := msgio.NewVarintReaderSize(c.conns[peer], cfg.MaxMessageSize)
		c.readers.Add(1)
		go c.read(peer, rd)
	}
	c.log.Info("tcp mesh up", zap.Int("size", size), zap.String("addr", ln.Addr().String()))
	return c, nil
}

// connect dials the lower ranks and accepts the higher ones concurrently.
func (c *TCP) connect(ctx context.Context, peers []string) error {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for peer := 0; peer < c.rank; peer++ {
		peer := peer
		g.Go(func() error {
			conn, err := c.dial(ctx, peer, peers[peer])
			if err != nil {
				return err
			}
			mu.Lock()
			c.conns[peer] = conn
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		// Unblock Accept when set-up is abandoned.
		stop := context.AfterFunc(ctx, func() { c.ln.Close() })
		defer stop()

		for n := c.rank + 1; n < c.size; n++ {
			conn, err := c.ln.Accept()
			if err != nil {
				return fmt.Errorf("rank %d accepting peers: %w", c.rank, err)
			}
			var peer int
			err = withDeadline(ctx, conn, func() (err error) {
				peer, err = c.acceptHandshake(conn)
				return err
			})
			if err != nil {
				conn.Close()
				return err
			}
			mu.Lock()
			dup := c.conns[peer] != nil
			if !dup {
				c.conns[peer] = conn
			}
			mu.Unlock()
			if dup {
				conn.Close()
				return fmt.Errorf("rank %d received two connections from rank %d", c.rank, peer)
			}
		}
		return nil
	})

	return g.Wait()
}

// dial connects to a lower rank, retrying until it starts listening.
func (c *TCP) dial(ctx context.Context, peer int, addr string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			err := withDeadline(ctx, conn, func() error { return c.dialHandshake(conn, peer) })
			if err != nil {
				conn.Close()
				return nil, err
			}
			c.log.Debug("connected", zap.Int("peer", peer), zap.String("addr", addr))
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rank %d dialing rank %d at %s: %w", c.rank, peer, addr, err)
		case <-time.After(dialRetry):
		}
	}
}

// withDeadline runs a handshake on conn which gives up when ctx expires or
// is cancelled.
func withDeadline(ctx context.Context, conn net.Conn, handshake func() error) error {
	if d, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(d); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })

	err := handshake()
	if !stop() {
		// The deadline was forced into the past; conn is unusable.
		if err == nil {
			err = ctx.Err()
		}
		return err
	}
	if err != nil {
		return err
	}
	return conn.SetDeadline(time.Time{})
}

func (c *TCP) hello() []byte {
	b := binary.LittleEndian.AppendUint32(nil, handshakeMagic)
	b = binary.LittleEndian.AppendUint32(b, uint32(c.rank))
	return binary.LittleEndian.AppendUint32(b, uint32(c.size))
}

// parseHello returns the rank and size announced by a peer.
func parseHello(msg []byte) (rank, size int, err error) {
	if len(msg) != 12 || binary.LittleEndian.Uint32(msg) != handshakeMagic {
		return 0, 0, errors.New("malformed handshake")
	}
	return int(binary.LittleEndian.Uint32(msg[4:])), int(binary.LittleEndian.Uint32(msg[8:])), nil
}

func (c *TCP) dialHandshake(conn net.Conn, peer int) error {
	if err := msgio.NewVarintWriter(conn).WriteMsg(c.hello()); err != nil {
		return fmt.Errorf("rank %d greeting rank %d: %w", c.rank, peer, err)
	}
	msg, err := msgio.NewVarintReaderSize(conn, 64).ReadMsg()
	if err != nil {
		return fmt.Errorf("rank %d waiting for rank %d: %w", c.rank, peer, err)
	}
	rank, size, err := parseHello(msg)
	if err != nil {
		return fmt.Errorf("rank %d greeting rank %d: %w", c.rank, peer, err)
	}
	if rank != peer || size != c.size {
		return fmt.Errorf("rank %d dialed rank %d of %d, but rank %d of %d answered", c.rank, peer, c.size, rank, size)
	}
	return nil
}

func (c *TCP) acceptHandshake(conn net.Conn) (int, error) {
	msg, err := msgio.NewVarintReaderSize(conn, 64).ReadMsg()
	if err != nil {
		return 0, fmt.Errorf("rank %d reading greeting: %w", c.rank, err)
	}
	rank, size, err := parseHello(msg)
	if err != nil {
		return 0, fmt.Errorf("rank %d reading greeting: %w", c.rank, err)
	}
	if size != c.size || rank <= c.rank || rank >= c.size {
		return 0, fmt.Errorf("rank %d of %d was greeted by rank %d of %d", c.rank, c.size, rank, size)
	}
	if err := msgio.NewVarintWriter(conn).WriteMsg(c.hello()); err != nil {
		return 0, fmt.Errorf("rank %d answering rank %d: %w", c.rank, rank, err)
	}
	return rank, nil
}

// read moves frames from one peer's connection into its inbox.
func (c *TCP) read(peer int, rd msgio.ReadCloser) {
	defer c.readers.Done()
	defer close(c.inbox[peer])

	for {
		msg, err := rd.ReadMsg()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.readErr[peer] = err
				c.log.Warn("connection lost", zap.Int("peer", peer), zap.Error(err))
			}
			return
		}
		frame := append([]byte(nil), msg...)
		rd.ReleaseMsg(msg)

		select {
		case c.inbox[peer] <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *TCP) Rank() int { return c.rank }
func (c *TCP) Size() int { return c.size }

func (c *TCP) Alltoallv(ctx context.Context, send [][]byte) ([][]byte, error) {
	if err := checkSend(c, send); err != nil {
		return nil, err
	}
	recv := make([][]byte, c.size)
	recv[c.rank] = send[c.rank]

	for dst := 0; dst < c.size; dst++ {
		if dst == c.rank {
			continue
		}
		frame, err := codec.Seal(c.codec, send[dst])
		if err != nil {
			return nil, err
		}
		if err := c.writers[dst].WriteMsg(frame); err != nil {
			return nil, fmt.Errorf("rank %d sending to rank %d: %w", c.rank, dst, err)
		}
	}

	for src := 0; src < c.size; src++ {
		if src == c.rank {
			continue
		}
		var frame []byte
		var ok bool
		select {
		case frame, ok = <-c.inbox[src]:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !ok {
			err := c.readErr[src]
			if err == nil {
				err = errors.New("communicator closed")
			}
			return nil, fmt.Errorf("rank %d receiving from rank %d: %w", c.rank, src, err)
		}
		payload, err := codec.Open(c.codec, frame)
		if err != nil {
			return nil, fmt.Errorf("rank %d: message from rank %d: %w", c.rank, src, err)
		}
		recv[src] = payload
	}
	return recv, nil
}

// Close tears down every connection and waits for the reader goroutines.
func (c *TCP) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ln.Close()
		for _, conn := range c.conns {
			if conn != nil {
				conn.Close()
			}
		}
		c.readers.Wait()
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
