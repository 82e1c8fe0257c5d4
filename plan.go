package rankmerge

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/zeebo/xxh3"

	rankerrors "github.com/tessro/rankmerge/errors"
)

// Plan is the result of simulating the combine tree over the initial count
// vector. It is pure arithmetic: running the same simulation on every rank
// (or broadcasting one authoritative run) lets each rank size its receive
// buffers exactly once, before the first message is exchanged.
//
// FinalCounts[r] is the total number of items rank r holds at the moment it
// either retires or survives the last round. RecvSizes[r] is the largest
// single message rank r will ever need to receive. Fingerprint identifies the
// initial count vector the plan was derived from; it travels in every message
// header so that ranks which planned against different counts fail loudly
// instead of corrupting buffers.
type Plan struct {
	// Size is the number of ranks in the group.
	Size int

	// FinalCounts maps rank to its planned post-merge total.
	FinalCounts []int

	// RecvSizes maps rank to the maximum items received in any one round.
	RecvSizes []int

	// Rounds is ceil(log2(Size)): the number of rounds a surviving rank runs.
	Rounds int

	// Fingerprint is an xxh3 hash of the initial count vector.
	Fingerprint uint64
}

// NewPlan simulates the recursive-doubling combine tree for the given initial
// per-rank counts. At each doubling of the bitmask, every rank r that is a
// multiple of twice the bitmask absorbs the running total of its partner
// r XOR bitmask, provided the partner exists. The iteration order is fixed so
// that every rank computes bit-identical results.
func NewPlan(initial []int) (*Plan, error) {
	size := len(initial)
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", rankerrors.ErrInvalidGroupSize, size)
	}
	for r, n := range initial {
		if n < 0 {
			return nil, fmt.Errorf("%w: rank %d has negative count %d", rankerrors.ErrCountMismatch, r, n)
		}
	}

	p := &Plan{
		Size:        size,
		FinalCounts: make([]int, size),
		RecvSizes:   make([]int, size),
		Rounds:      roundsFor(size),
		Fingerprint: countFingerprint(initial),
	}
	copy(p.FinalCounts, initial)

	for bitmask := 1; bitmask < size; bitmask <<= 1 {
		for rank := 0; rank < size; rank += 2 * bitmask {
			partner := rank ^ bitmask
			if partner >= size {
				continue
			}
			// The partner's running total at this level is what it will send.
			if p.RecvSizes[rank] < p.FinalCounts[partner] {
				p.RecvSizes[rank] = p.FinalCounts[partner]
			}
			p.FinalCounts[rank] += p.FinalCounts[partner]
		}
	}
	return p, nil
}

// Total returns the grand total item count across all ranks.
func (p *Plan) Total() int {
	return p.FinalCounts[0]
}

// roundsFor returns ceil(log2(size)), the round count for a surviving rank.
func roundsFor(size int) int {
	if size <= 1 {
		return 0
	}
	return bits.Len(uint(size - 1))
}

// countFingerprint hashes the initial count vector with xxh3 over its
// little-endian encoding. Every rank must derive the same fingerprint or the
// plans diverged.
func countFingerprint(counts []int) uint64 {
	buf := make([]byte, 8*(len(counts)+1))
	binary.LittleEndian.PutUint64(buf, uint64(len(counts)))
	for i, n := range counts {
		binary.LittleEndian.PutUint64(buf[8*(i+1):], uint64(n))
	}
	return xxh3.Hash(buf)
}
