package rankmerge

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	rankerrors "github.com/tessro/rankmerge/errors"
)

// Stats reports what one worker did during a merge.
type Stats struct {
	// Rounds is the number of round-loop iterations the worker executed,
	// including no-op rounds where the XOR partner fell outside the group.
	Rounds int

	// Received is the number of partner lists received and merged.
	Received int

	// Sent is 1 if the worker retired by sending its list away, else 0.
	Sent int

	// Retired reports whether the worker left the protocol before the last
	// round. Rank 0 normally survives every round and ends with Retired false.
	Retired bool
}

// Worker is one rank's half of the butterfly merge. It owns its buffers and
// all of its mutable state; ranks interact only through the Transport.
//
// The life cycle is NewWorker once, Run once. After Run returns the worker is
// spent; Stats remains readable.
type Worker[T cmp.Ordered] struct {
	rank  int
	size  int
	tr    Transport[T]
	local []T
	log   *zap.Logger

	plan    *Plan
	cur     []T
	scratch []T
	stats   Stats
}

// NewWorker validates the configuration and binds rank's sorted local list to
// the transport. The list is copied during Run; the caller keeps ownership of
// local.
func NewWorker[T cmp.Ordered](rank, size int, local []T, tr Transport[T], opts ...Option) (*Worker[T], error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", rankerrors.ErrInvalidGroupSize, size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d, size %d", rankerrors.ErrRankOutOfRange, rank, size)
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: rank %d", rankerrors.ErrNilTransport, rank)
	}
	if cfg.checkInput && !slices.IsSorted(local) {
		return nil, fmt.Errorf("%w: rank %d", rankerrors.ErrUnsortedInput, rank)
	}

	return &Worker[T]{
		rank:  rank,
		size:  size,
		tr:    tr,
		local: local,
		log:   cfg.logger.With(zap.Int("rank", rank)),
	}, nil
}

// Stats returns what the worker did. Valid after Run has returned.
func (w *Worker[T]) Stats() Stats { return w.stats }

// Plan returns the merge plan the worker derived from the count exchange.
// Nil before Run.
func (w *Worker[T]) Plan() *Plan { return w.plan }

// Run executes the count exchange, plans the combine tree, and drives the
// round loop until this rank either survives the last round or retires.
//
// Only rank 0's return value is meaningful: it is the globally sorted merge
// of every rank's local list. All other ranks return nil. The error reports
// the rank, round and partner involved, wrapping one of the sentinel values
// in the errors subpackage (or the context error if cancelled while blocked).
func (w *Worker[T]) Run(ctx context.Context) ([]T, error) {
	counts, err := w.tr.ExchangeCounts(ctx, len(w.local))
	if err != nil {
		return nil, err
	}
	if len(counts) != w.size {
		return nil, fmt.Errorf("%w: rank %d got %d counts for size %d",
			rankerrors.ErrCountMismatch, w.rank, len(counts), w.size)
	}

	w.plan, err = NewPlan(counts)
	if err != nil {
		return nil, err
	}
	w.log.Debug("plan computed",
		zap.Ints("counts", counts),
		zap.Int("final", w.plan.FinalCounts[w.rank]),
		zap.Int("maxRecv", w.plan.RecvSizes[w.rank]))

	// All buffers are sized once, before the first round. cur and scratch
	// each hold up to this rank's planned final total and ping-pong across
	// rounds; the receive buffer holds the largest single incoming list.
	final := w.plan.FinalCounts[w.rank]
	w.cur = make([]T, len(w.local), max(final, len(w.local)))
	copy(w.cur, w.local)
	w.scratch = make([]T, 0, max(final, len(w.local)))
	recvBuf := make([]T, 0, w.plan.RecvSizes[w.rank])

	round := 0
	for bitmask := 1; bitmask < w.size; bitmask <<= 1 {
		partner := w.rank ^ bitmask

		if w.rank < partner && (partner >= w.size || w.plan.FinalCounts[partner] > 0) {
			// An out-of-range partner means nothing to wait for, but the
			// round still advances so higher rounds pair correctly.
			if partner < w.size {
				if err := w.receiveAndMerge(ctx, round, partner, recvBuf); err != nil {
					return nil, err
				}
			}
			round++
			w.stats.Rounds++
			continue
		}

		// Send-and-retire. Note this branch is also taken when the partner's
		// planned total is zero even though rank < partner; the accumulated
		// list then travels upward and is never consumed. Kept bug-for-bug
		// with the reference protocol (see DESIGN.md).
		w.stats.Rounds++
		w.stats.Sent++
		w.stats.Retired = true
		w.log.Debug("retiring", zap.Int("round", round), zap.Int("partner", partner), zap.Int("count", len(w.cur)))
		err := w.tr.Send(ctx, partner, Message[T]{
			Round:   round,
			From:    w.rank,
			PlanSum: w.plan.Fingerprint,
			Values:  w.cur,
		})
		if err != nil {
			return nil, err
		}
		break
	}

	if w.rank == 0 {
		return w.cur, nil
	}
	return nil, nil
}

// receiveAndMerge blocks for the partner's list, verifies it against the
// plan, and merges it into the current buffer.
func (w *Worker[T]) receiveAndMerge(ctx context.Context, round, partner int, recvBuf []T) error {
	msg, err := w.tr.Recv(ctx, partner)
	if err != nil {
		return err
	}
	want := w.plan.FinalCounts[partner]
	switch {
	case msg.From != partner:
		return fmt.Errorf("%w: rank %d round %d expected partner %d, message from %d",
			rankerrors.ErrSenderMismatch, w.rank, round, partner, msg.From)
	case msg.Round != round:
		return fmt.Errorf("%w: rank %d partner %d expected round %d, message round %d",
			rankerrors.ErrRoundMismatch, w.rank, partner, round, msg.Round)
	case msg.PlanSum != w.plan.Fingerprint:
		return fmt.Errorf("%w: rank %d round %d partner %d: fingerprint %#x != %#x",
			rankerrors.ErrPlanMismatch, w.rank, round, partner, msg.PlanSum, w.plan.Fingerprint)
	case len(msg.Values) != want:
		return fmt.Errorf("%w: rank %d round %d partner %d: got %d items, planned %d",
			rankerrors.ErrLengthMismatch, w.rank, round, partner, len(msg.Values), want)
	}

	// Stage the payload in the preallocated receive buffer so the transport's
	// slice never outlives this round.
	recvBuf = append(recvBuf[:0], msg.Values...)

	merged := mergeInto(w.scratch, w.cur, recvBuf)
	w.scratch = w.cur[:0]
	w.cur = merged
	w.stats.Received++
	w.log.Debug("merged", zap.Int("round", round), zap.Int("partner", partner), zap.Int("count", len(w.cur)))
	return nil
}
