package rankmerge

import (
	"cmp"
	"context"
	"fmt"

	rankerrors "github.com/tessro/rankmerge/errors"
)

// Mesh is an in-process Transport: a P×P matrix of buffered channels, one
// per directed rank pair, plus a parallel matrix for the count exchange.
// Each rank uses the Mesh through its own Endpoint; payload slices are copied
// on send so no two ranks ever alias a buffer.
type Mesh[T cmp.Ordered] struct {
	size   int
	links  [][]chan Message[T] // links[from][to]
	counts [][]chan int        // counts[from][to]
}

// NewMesh creates a mesh for size ranks. buffer is the per-link channel
// capacity; 1 is enough for the merge protocol (each link carries at most one
// data message and one count message), larger values only decouple senders
// from slow receivers.
func NewMesh[T cmp.Ordered](size, buffer int) (*Mesh[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", rankerrors.ErrInvalidGroupSize, size)
	}
	if buffer < 1 {
		buffer = 1
	}
	m := &Mesh[T]{
		size:   size,
		links:  make([][]chan Message[T], size),
		counts: make([][]chan int, size),
	}
	for from := 0; from < size; from++ {
		m.links[from] = make([]chan Message[T], size)
		m.counts[from] = make([]chan int, size)
		for to := 0; to < size; to++ {
			if from == to {
				continue
			}
			m.links[from][to] = make(chan Message[T], buffer)
			m.counts[from][to] = make(chan int, buffer)
		}
	}
	return m, nil
}

// Size returns the number of ranks in the mesh.
func (m *Mesh[T]) Size() int { return m.size }

// Endpoint returns rank's view of the mesh.
func (m *Mesh[T]) Endpoint(rank int) (*Endpoint[T], error) {
	if rank < 0 || rank >= m.size {
		return nil, fmt.Errorf("%w: rank %d, size %d", rankerrors.ErrRankOutOfRange, rank, m.size)
	}
	return &Endpoint[T]{mesh: m, rank: rank}, nil
}

// Endpoint is one rank's handle on a Mesh. It implements Transport.
type Endpoint[T cmp.Ordered] struct {
	mesh *Mesh[T]
	rank int
}

// Send copies msg's payload and delivers it on the directed link to rank to.
func (e *Endpoint[T]) Send(ctx context.Context, to int, msg Message[T]) error {
	if to < 0 || to >= e.mesh.size || to == e.rank {
		return fmt.Errorf("%w: send from %d to %d", rankerrors.ErrRankOutOfRange, e.rank, to)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rankmerge: rank %d send to %d: %w", e.rank, to, err)
	}
	// Value semantics across the rank boundary: the sender may reuse or
	// discard its buffer immediately after Send returns.
	msg.Values = append([]T(nil), msg.Values...)
	msg.From = e.rank
	select {
	case e.mesh.links[e.rank][to] <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rankmerge: rank %d send to %d: %w", e.rank, to, ctx.Err())
	}
}

// Recv blocks until a message from rank from arrives.
func (e *Endpoint[T]) Recv(ctx context.Context, from int) (Message[T], error) {
	if from < 0 || from >= e.mesh.size || from == e.rank {
		return Message[T]{}, fmt.Errorf("%w: recv at %d from %d", rankerrors.ErrRankOutOfRange, e.rank, from)
	}
	if err := ctx.Err(); err != nil {
		return Message[T]{}, fmt.Errorf("rankmerge: rank %d recv from %d: %w", e.rank, from, err)
	}
	select {
	case msg, ok := <-e.mesh.links[from][e.rank]:
		if !ok {
			return Message[T]{}, fmt.Errorf("rankmerge: rank %d recv from %d: %w", e.rank, from, rankerrors.ErrLinkClosed)
		}
		return msg, nil
	case <-ctx.Done():
		return Message[T]{}, fmt.Errorf("rankmerge: rank %d recv from %d: %w", e.rank, from, ctx.Err())
	}
}

// ExchangeCounts sends this rank's count to every peer, then collects every
// peer's count. The exchange completes only once all ranks have called it;
// a missing rank blocks everyone until the context is cancelled.
func (e *Endpoint[T]) ExchangeCounts(ctx context.Context, count int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rankmerge: rank %d count exchange: %w: %v",
			e.rank, rankerrors.ErrExchangeIncomplete, err)
	}
	for to := 0; to < e.mesh.size; to++ {
		if to == e.rank {
			continue
		}
		select {
		case e.mesh.counts[e.rank][to] <- count:
		case <-ctx.Done():
			return nil, fmt.Errorf("rankmerge: rank %d count exchange send to %d: %w: %v",
				e.rank, to, rankerrors.ErrExchangeIncomplete, ctx.Err())
		}
	}

	counts := make([]int, e.mesh.size)
	counts[e.rank] = count
	for from := 0; from < e.mesh.size; from++ {
		if from == e.rank {
			continue
		}
		select {
		case n := <-e.mesh.counts[from][e.rank]:
			counts[from] = n
		case <-ctx.Done():
			return nil, fmt.Errorf("rankmerge: rank %d count exchange recv from %d: %w: %v",
				e.rank, from, rankerrors.ErrExchangeIncomplete, ctx.Err())
		}
	}
	return counts, nil
}
