package rankmerge

import (
	"context"
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap/zaptest"

	rankerrors "github.com/tessro/rankmerge/errors"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]uint64
		want  []uint64
	}{
		{
			name:  "single rank",
			lists: [][]uint64{{1, 2, 3}},
			want:  []uint64{1, 2, 3},
		},
		{
			name:  "single empty rank",
			lists: [][]uint64{{}},
			want:  []uint64{},
		},
		{
			name:  "two ranks",
			lists: [][]uint64{{1, 4}, {2, 3}},
			want:  []uint64{1, 2, 3, 4},
		},
		{
			name:  "four ranks of primes",
			lists: [][]uint64{{2, 11}, {3, 13}, {5, 7}, {17, 19}},
			want:  []uint64{2, 3, 5, 7, 11, 13, 17, 19},
		},
		{
			name:  "empty ranks among full ones",
			lists: [][]uint64{{}, {1, 5, 9}, {}, {3, 7}},
			want:  []uint64{1, 3, 5, 7, 9},
		},
		{
			name:  "three ranks",
			lists: [][]uint64{{10, 40}, {20, 50}, {30, 60}},
			want:  []uint64{10, 20, 30, 40, 50, 60},
		},
		{
			name:  "duplicates everywhere",
			lists: [][]uint64{{7, 7}, {7}, {7, 7, 7}},
			want:  []uint64{7, 7, 7, 7, 7, 7},
		},
		{
			name:  "all ranks empty",
			lists: [][]uint64{{}, {}, {}, {}},
			want:  []uint64{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Merge(context.Background(), tc.lists, WithLogger(zaptest.NewLogger(t)))
			if err != nil {
				t.Fatalf("Merge: %v", err)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("Merge = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMergeStrings(t *testing.T) {
	got, err := Merge(context.Background(), [][]string{
		{"ant", "fox"},
		{"bee"},
		{"cow", "elk", "owl"},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := []string{"ant", "bee", "cow", "elk", "fox", "owl"}
	if !slices.Equal(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
}

func TestMergeRandom(t *testing.T) {
	rng := newTestRNG(t)
	for _, size := range []int{1, 2, 3, 4, 5, 7, 8, 13, 16, 32} {
		// Every rank gets at least one value. A rank whose planned subtree
		// is empty makes its lower partner send upward and retire (the
		// behavior pinned by TestWorkerSendsUpwardOnEmptyPartnerSubtree),
		// so full multiset correctness only holds for non-empty counts;
		// empty-rank patterns are covered by the fixed tables above.
		counts := make([]int, size)
		for i := range counts {
			counts[i] = 1 + int(rng.Int63n(50))
		}
		lists := randomSortedLists(rng, counts, 64)

		final, err := Merge(context.Background(), lists)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		checkMerged(t, final, lists)
	}
}

func TestMergeValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := Merge[uint64](ctx, nil); !errors.Is(err, rankerrors.ErrInvalidGroupSize) {
		t.Errorf("Merge(nil) error = %v, want ErrInvalidGroupSize", err)
	}
	if _, err := Merge(ctx, [][]uint64{{1, 2}, {5, 4}}); !errors.Is(err, rankerrors.ErrUnsortedInput) {
		t.Errorf("unsorted input error = %v, want ErrUnsortedInput", err)
	}
}

func TestMergeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Merge(ctx, [][]uint64{{1}, {2}})
	if err == nil {
		t.Fatal("Merge with cancelled context succeeded")
	}
	if !errors.Is(err, rankerrors.ErrExchangeIncomplete) && !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want cancellation surfaced", err)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	lists := [][]uint64{{1, 4}, {2, 3}}
	snapshot := [][]uint64{
		append([]uint64(nil), lists[0]...),
		append([]uint64(nil), lists[1]...),
	}

	if _, err := Merge(context.Background(), lists); err != nil {
		t.Fatal(err)
	}
	for rank := range lists {
		if !slices.Equal(lists[rank], snapshot[rank]) {
			t.Errorf("rank %d input mutated: %v", rank, lists[rank])
		}
	}
}
