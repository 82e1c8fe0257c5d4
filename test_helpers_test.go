package rankmerge

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"slices"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewSource(int64((testSeed1 ^ s1) ^ (uint64(testSeed2) ^ s2))))
}

// randomSortedLists builds size local lists with the given per-rank counts,
// each sorted ascending, with values drawn from [0, valueRange).
func randomSortedLists(rng *rand.Rand, counts []int, valueRange uint64) [][]uint64 {
	lists := make([][]uint64, len(counts))
	for rank, n := range counts {
		lists[rank] = make([]uint64, n)
		for i := range lists[rank] {
			lists[rank][i] = uint64(rng.Int63n(int64(valueRange)))
		}
		slices.Sort(lists[rank])
	}
	return lists
}

// checkMerged fails the test unless final is sorted ascending and is exactly
// the multiset union of the input lists.
func checkMerged(t *testing.T, final []uint64, lists [][]uint64) {
	t.Helper()

	if !slices.IsSorted(final) {
		t.Errorf("final list is not sorted ascending")
	}

	var union []uint64
	for _, list := range lists {
		union = append(union, list...)
	}
	if len(final) != len(union) {
		t.Fatalf("final length = %d, want %d", len(final), len(union))
	}
	slices.Sort(union)
	sorted := append([]uint64(nil), final...)
	slices.Sort(sorted)
	if !slices.Equal(sorted, union) {
		t.Errorf("final list is not the multiset union of the inputs")
	}
}
