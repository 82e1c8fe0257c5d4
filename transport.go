package rankmerge

import (
	"cmp"
	"context"
)

// Message is one round's payload from a retiring rank to its receiving
// partner. Values is the sender's entire accumulated merge result; the
// receiver knows its exact length ahead of time from the merge plan.
type Message[T cmp.Ordered] struct {
	// Round is the bitmask exponent of the round the sender retired in.
	// A matched sender/receiver pair always agrees on the round, because the
	// pairing bitmask is the XOR of the two ranks.
	Round int

	// From is the sender's rank.
	From int

	// PlanSum is the sender's plan fingerprint (see Plan.Fingerprint).
	PlanSum uint64

	// Values is the sorted payload. Receivers must treat it as read-only;
	// transports crossing a memory boundary (TCP) copy it by construction,
	// and the in-process mesh copies it on send.
	Values []T
}

// Transport is the point-to-point fabric between the ranks of one merge
// group. Implementations must provide reliable, ordered, exactly-once
// delivery between any two ranks; the core never re-requests a message.
//
// All three calls block: Send until the payload is handed to the fabric,
// Recv until the matched partner's message arrives, and ExchangeCounts until
// every rank has contributed. The core has no timeouts of its own — a missing
// partner blocks forever unless the supervising context is cancelled.
type Transport[T cmp.Ordered] interface {
	// Send delivers msg to rank to. Called at most once per worker (the
	// send-and-retire transition).
	Send(ctx context.Context, to int, msg Message[T]) error

	// Recv blocks until the next message from rank from arrives.
	Recv(ctx context.Context, from int) (Message[T], error)

	// ExchangeCounts performs the all-to-all count exchange: the calling
	// rank contributes count and receives the full vector of all ranks'
	// counts, indexed by rank.
	ExchangeCounts(ctx context.Context, count int) ([]int, error)
}
