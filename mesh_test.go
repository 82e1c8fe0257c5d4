package rankmerge

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	rankerrors "github.com/tessro/rankmerge/errors"
)

func TestMeshSendRecv(t *testing.T) {
	mesh, err := NewMesh[uint64](2, 1)
	if err != nil {
		t.Fatal(err)
	}
	a, err := mesh.Endpoint(0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := mesh.Endpoint(1)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	sent := Message[uint64]{Round: 0, PlanSum: 42, Values: []uint64{1, 2, 3}}
	if err := b.Send(ctx, 0, sent); err != nil {
		t.Fatal(err)
	}

	got, err := a.Recv(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.From != 1 || got.Round != 0 || got.PlanSum != 42 {
		t.Errorf("received header = %+v", got)
	}
	if !slices.Equal(got.Values, sent.Values) {
		t.Errorf("received values = %v, want %v", got.Values, sent.Values)
	}
}

// The mesh must copy payloads on send so no two ranks alias a buffer.
func TestMeshSendCopiesValues(t *testing.T) {
	mesh, err := NewMesh[uint64](2, 1)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := mesh.Endpoint(0)
	b, _ := mesh.Endpoint(1)

	ctx := context.Background()
	payload := []uint64{10, 20}
	if err := b.Send(ctx, 0, Message[uint64]{Values: payload}); err != nil {
		t.Fatal(err)
	}
	payload[0] = 99 // Sender reuses its buffer after Send returns.

	got, err := a.Recv(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Values[0] != 10 {
		t.Errorf("receiver observed sender's mutation: %v", got.Values)
	}
}

func TestMeshRankValidation(t *testing.T) {
	mesh, err := NewMesh[uint64](3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mesh.Endpoint(3); !errors.Is(err, rankerrors.ErrRankOutOfRange) {
		t.Errorf("Endpoint(3) error = %v, want ErrRankOutOfRange", err)
	}
	if _, err := mesh.Endpoint(-1); !errors.Is(err, rankerrors.ErrRankOutOfRange) {
		t.Errorf("Endpoint(-1) error = %v, want ErrRankOutOfRange", err)
	}

	ep, _ := mesh.Endpoint(0)
	ctx := context.Background()
	if err := ep.Send(ctx, 0, Message[uint64]{}); !errors.Is(err, rankerrors.ErrRankOutOfRange) {
		t.Errorf("self-send error = %v, want ErrRankOutOfRange", err)
	}
	if _, err := ep.Recv(ctx, 5); !errors.Is(err, rankerrors.ErrRankOutOfRange) {
		t.Errorf("out-of-range recv error = %v, want ErrRankOutOfRange", err)
	}

	if _, err := NewMesh[uint64](0, 1); !errors.Is(err, rankerrors.ErrInvalidGroupSize) {
		t.Errorf("NewMesh(0) error = %v, want ErrInvalidGroupSize", err)
	}
}

func TestMeshExchangeCounts(t *testing.T) {
	const size = 4
	mesh, err := NewMesh[uint64](size, 1)
	if err != nil {
		t.Fatal(err)
	}

	contrib := []int{5, 0, 3, 8}
	results := make([][]int, size)
	errs := make([]error, size)

	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		rank := rank
		ep, err := mesh.Endpoint(rank)
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[rank], errs[rank] = ep.ExchangeCounts(context.Background(), contrib[rank])
		}()
	}
	wg.Wait()

	for rank := 0; rank < size; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d: %v", rank, errs[rank])
		}
		if !slices.Equal(results[rank], contrib) {
			t.Errorf("rank %d counts = %v, want %v", rank, results[rank], contrib)
		}
	}
}

// A missing rank blocks the exchange until the context is cancelled; the
// error must identify it as an incomplete exchange.
func TestMeshExchangeCountsCancelled(t *testing.T) {
	mesh, err := NewMesh[uint64](2, 1)
	if err != nil {
		t.Fatal(err)
	}
	ep, _ := mesh.Endpoint(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = ep.ExchangeCounts(ctx, 1) // Rank 1 never participates.
	if !errors.Is(err, rankerrors.ErrExchangeIncomplete) {
		t.Errorf("error = %v, want ErrExchangeIncomplete", err)
	}
}

func TestMeshRecvCancelled(t *testing.T) {
	mesh, err := NewMesh[uint64](2, 1)
	if err != nil {
		t.Fatal(err)
	}
	ep, _ := mesh.Endpoint(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ep.Recv(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Recv after cancel = %v, want context.Canceled", err)
	}
}
