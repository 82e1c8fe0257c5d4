// Package tcpmesh provides a TCP transport for running a rankmerge group
// across processes or machines. Payloads are uint64 values in little-endian
// frames; every frame carries an xxhash64 checksum of its payload, verified
// on receipt.
//
// Every rank listens on its own address and dials a peer lazily on first
// send, so a group of P ranks uses at most P*(P-1) directed connections.
// TCP supplies the reliable, ordered, exactly-once delivery the merge
// protocol requires; tcpmesh adds framing and integrity checks only.
package tcpmesh

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tessro/rankmerge"
	rankerrors "github.com/tessro/rankmerge/errors"
)

const (
	// frameMagic identifies rankmerge wire frames ("RKMF").
	frameMagic = uint32(0x524B4D46)

	// frameVersion is the current wire format version.
	frameVersion = uint16(0x0001)

	// frameHeaderSize is the exact size of the serialized frame header.
	// Layout: [Magic 4B][Version 2B][Kind 1B][Reserved 1B][Round 4B]
	//         [From 4B][PlanSum 8B][Count 8B][PayloadHash 8B]
	frameHeaderSize = 40

	// maxFrameValues bounds the payload length accepted from the wire, as a
	// sanity check against corrupted count fields before allocating.
	maxFrameValues = uint64(1) << 40

	// inboxDepth is the per-sender inbox capacity. A peer sends at most one
	// count frame and one data frame, so two never blocks the read loop.
	inboxDepth = 2
)

// Frame kinds.
const (
	kindCount = uint8(0)
	kindData  = uint8(1)
)

type frame struct {
	kind    uint8
	round   int
	from    int
	planSum uint64
	values  []uint64
}

// Endpoint is one rank's TCP handle on the group. It implements
// rankmerge.Transport[uint64].
type Endpoint struct {
	rank  int
	addrs []string
	ln    net.Listener

	mu    sync.Mutex // guards conns
	conns map[int]net.Conn

	inbox []chan frame

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  error

	closeOnce sync.Once
}

// Listen creates the rank's listener on addrs[rank] and returns its endpoint.
// addrs must be identical on every rank, indexed by rank.
func Listen(rank int, addrs []string) (*Endpoint, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("%w: rank %d, %d addrs", rankerrors.ErrRankOutOfRange, rank, len(addrs))
	}
	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("tcpmesh: listen rank %d on %s: %w", rank, addrs[rank], err)
	}
	return NewEndpoint(rank, addrs, ln)
}

// NewEndpoint wraps an existing listener as the rank's endpoint. Useful when
// ports are assigned dynamically: listen on ":0" everywhere, gather the
// resolved addresses, then hand both to NewEndpoint.
func NewEndpoint(rank int, addrs []string, ln net.Listener) (*Endpoint, error) {
	size := len(addrs)
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", rankerrors.ErrInvalidGroupSize, size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d, size %d", rankerrors.ErrRankOutOfRange, rank, size)
	}

	e := &Endpoint{
		rank:  rank,
		addrs: addrs,
		ln:    ln,
		conns: make(map[int]net.Conn, size),
		inbox: make([]chan frame, size),
		fatal: make(chan struct{}),
	}
	for i := range e.inbox {
		e.inbox[i] = make(chan frame, inboxDepth)
	}
	go e.acceptLoop()
	return e, nil
}

// Addr returns the listener's resolved address.
func (e *Endpoint) Addr() net.Addr { return e.ln.Addr() }

// Close shuts the listener and every open connection. Blocked Recv and
// ExchangeCounts calls return ErrLinkClosed.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.fail(rankerrors.ErrLinkClosed)
		err = e.ln.Close()
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, conn := range e.conns {
			err = errors.Join(err, conn.Close())
		}
		e.conns = nil
	})
	return err
}

// fail records the first fatal error and unblocks every waiter.
func (e *Endpoint) fail(err error) {
	e.fatalOnce.Do(func() {
		e.fatalErr = err
		close(e.fatal)
	})
}

func (e *Endpoint) acceptLoop() {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			// Listener closed; Close already signalled waiters.
			return
		}
		go e.readLoop(conn)
	}
}

// readLoop decodes frames off one inbound connection and routes them to the
// per-sender inbox. A decode failure poisons the endpoint: the merge protocol
// has no recovery path for a corrupt or misbehaving peer.
func (e *Endpoint) readLoop(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		f, err := readFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			e.fail(err)
			return
		}
		if f.from < 0 || f.from >= len(e.inbox) || f.from == e.rank {
			e.fail(fmt.Errorf("%w: frame from rank %d", rankerrors.ErrInvalidFrame, f.from))
			return
		}
		select {
		case e.inbox[f.from] <- f:
		case <-e.fatal:
			return
		}
	}
}

// conn returns the cached outbound connection to rank to, dialing on first use.
func (e *Endpoint) conn(ctx context.Context, to int) (net.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns == nil {
		return nil, rankerrors.ErrLinkClosed
	}
	if c, ok := e.conns[to]; ok {
		return c, nil
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", e.addrs[to])
	if err != nil {
		return nil, fmt.Errorf("tcpmesh: rank %d dial %d (%s): %w", e.rank, to, e.addrs[to], err)
	}
	e.conns[to] = c
	return c, nil
}

func (e *Endpoint) writeFrame(ctx context.Context, to int, f frame) error {
	c, err := e.conn(ctx, to)
	if err != nil {
		return err
	}
	buf := encodeFrame(f)
	if _, err := c.Write(buf); err != nil {
		return fmt.Errorf("tcpmesh: rank %d send to %d: %w", e.rank, to, err)
	}
	return nil
}

// Send delivers a data frame to rank to.
func (e *Endpoint) Send(ctx context.Context, to int, msg rankmerge.Message[uint64]) error {
	if to < 0 || to >= len(e.addrs) || to == e.rank {
		return fmt.Errorf("%w: send from %d to %d", rankerrors.ErrRankOutOfRange, e.rank, to)
	}
	return e.writeFrame(ctx, to, frame{
		kind:    kindData,
		round:   msg.Round,
		from:    e.rank,
		planSum: msg.PlanSum,
		values:  msg.Values,
	})
}

// Recv blocks until the next data frame from rank from arrives.
func (e *Endpoint) Recv(ctx context.Context, from int) (rankmerge.Message[uint64], error) {
	var zero rankmerge.Message[uint64]
	if from < 0 || from >= len(e.addrs) || from == e.rank {
		return zero, fmt.Errorf("%w: recv at %d from %d", rankerrors.ErrRankOutOfRange, e.rank, from)
	}
	select {
	case f := <-e.inbox[from]:
		if f.kind != kindData {
			return zero, fmt.Errorf("%w: rank %d expected data frame from %d, got kind %d",
				rankerrors.ErrInvalidFrame, e.rank, from, f.kind)
		}
		return rankmerge.Message[uint64]{
			Round:   f.round,
			From:    f.from,
			PlanSum: f.planSum,
			Values:  f.values,
		}, nil
	case <-e.fatal:
		return zero, fmt.Errorf("tcpmesh: rank %d recv from %d: %w", e.rank, from, e.fatalErr)
	case <-ctx.Done():
		return zero, fmt.Errorf("tcpmesh: rank %d recv from %d: %w", e.rank, from, ctx.Err())
	}
}

// ExchangeCounts broadcasts this rank's count to every peer, then collects
// one count frame from each of them.
func (e *Endpoint) ExchangeCounts(ctx context.Context, count int) ([]int, error) {
	for to := range e.addrs {
		if to == e.rank {
			continue
		}
		f := frame{kind: kindCount, from: e.rank, values: []uint64{uint64(count)}}
		if err := e.writeFrame(ctx, to, f); err != nil {
			return nil, fmt.Errorf("%w: %v", rankerrors.ErrExchangeIncomplete, err)
		}
	}

	counts := make([]int, len(e.addrs))
	counts[e.rank] = count
	for from := range e.addrs {
		if from == e.rank {
			continue
		}
		select {
		case f := <-e.inbox[from]:
			if f.kind != kindCount || len(f.values) != 1 {
				return nil, fmt.Errorf("%w: rank %d expected count frame from %d",
					rankerrors.ErrInvalidFrame, e.rank, from)
			}
			counts[from] = int(f.values[0])
		case <-e.fatal:
			return nil, fmt.Errorf("%w: rank %d: %v", rankerrors.ErrExchangeIncomplete, e.rank, e.fatalErr)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: rank %d: %v", rankerrors.ErrExchangeIncomplete, e.rank, ctx.Err())
		}
	}
	return counts, nil
}

// encodeFrame serializes a frame, header and payload in one buffer so each
// frame is a single Write on the connection.
func encodeFrame(f frame) []byte {
	buf := make([]byte, frameHeaderSize+8*len(f.values))
	binary.LittleEndian.PutUint32(buf[0:4], frameMagic)
	binary.LittleEndian.PutUint16(buf[4:6], frameVersion)
	buf[6] = f.kind
	// buf[7] reserved
	binary.LittleEndian.PutUint32(buf[8:12], uint32(f.round))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(f.from))
	binary.LittleEndian.PutUint64(buf[16:24], f.planSum)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(len(f.values)))
	payload := buf[frameHeaderSize:]
	for i, v := range f.values {
		binary.LittleEndian.PutUint64(payload[8*i:], v)
	}
	binary.LittleEndian.PutUint64(buf[32:40], xxhash.Sum64(payload))
	return buf
}

// readFrame decodes one frame, verifying magic, version, kind and the
// payload checksum.
func readFrame(r io.Reader) (frame, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return frame{}, fmt.Errorf("%w: truncated header", rankerrors.ErrInvalidFrame)
		}
		return frame{}, err
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != frameMagic {
		return frame{}, fmt.Errorf("%w: magic %#x", rankerrors.ErrInvalidFrame, magic)
	}
	if version := binary.LittleEndian.Uint16(hdr[4:6]); version != frameVersion {
		return frame{}, fmt.Errorf("%w: version %d", rankerrors.ErrInvalidFrame, version)
	}
	kind := hdr[6]
	if kind != kindCount && kind != kindData {
		return frame{}, fmt.Errorf("%w: kind %d", rankerrors.ErrInvalidFrame, kind)
	}
	count := binary.LittleEndian.Uint64(hdr[24:32])
	if count > maxFrameValues {
		return frame{}, fmt.Errorf("%w: payload of %d values", rankerrors.ErrInvalidFrame, count)
	}

	payload := make([]byte, 8*count)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, fmt.Errorf("%w: truncated payload: %v", rankerrors.ErrInvalidFrame, err)
	}
	if sum := xxhash.Sum64(payload); sum != binary.LittleEndian.Uint64(hdr[32:40]) {
		return frame{}, fmt.Errorf("%w: payload hash %#x", rankerrors.ErrChecksumFailed, sum)
	}

	values := make([]uint64, count)
	for i := range values {
		values[i] = binary.LittleEndian.Uint64(payload[8*i:])
	}
	return frame{
		kind:    kind,
		round:   int(int32(binary.LittleEndian.Uint32(hdr[8:12]))),
		from:    int(int32(binary.LittleEndian.Uint32(hdr[12:16]))),
		planSum: binary.LittleEndian.Uint64(hdr[16:24]),
		values:  values,
	}, nil
}
