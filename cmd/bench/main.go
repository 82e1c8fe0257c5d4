// Bench measures rankmerge merge throughput and memory usage across group
// sizes.
//
// Usage:
//
//	go run ./cmd/bench -items 10000000 -p 8
//
// Flags:
//
//	-items   Total number of items across all ranks (default: 10,000,000)
//	-p       Number of ranks (default: 8)
//	-runs    Timed repetitions (default: 3)
//	-seed    Seed for deterministic value generation (default: 0x1234)
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/tessro/rankmerge"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024 // Convert KB to bytes on Linux
	}
	return maxRSS
}

// generateLists deals murmur3-derived pseudo-random values round-robin across
// p ranks and sorts each rank's share. Deterministic for a given seed.
func generateLists(items, p int, seed uint32) [][]uint64 {
	lists := make([][]uint64, p)
	for rank := range lists {
		lists[rank] = make([]uint64, 0, items/p+1)
	}
	var buf [8]byte
	for i := 0; i < items; i++ {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		v := murmur3.Sum64WithSeed(buf[:], seed)
		lists[i%p] = append(lists[i%p], v)
	}
	for rank := range lists {
		slices.Sort(lists[rank])
	}
	return lists
}

func main() {
	itemsFlag := flag.Int("items", 10_000_000, "total number of items across all ranks")
	pFlag := flag.Int("p", 8, "number of ranks")
	runsFlag := flag.Int("runs", 3, "timed repetitions")
	seedFlag := flag.Uint("seed", 0x1234, "value generation seed")
	flag.Parse()

	items := *itemsFlag
	p := *pFlag
	if items < 0 || p < 1 {
		fmt.Fprintln(os.Stderr, "bench: -items must be >= 0 and -p must be >= 1")
		os.Exit(2)
	}

	fmt.Printf("Generating %d items across %d ranks...\n", items, p)
	genStart := time.Now()
	lists := generateLists(items, p, uint32(*seedFlag))
	fmt.Printf("Generated in %v\n", time.Since(genStart))

	ctx := context.Background()
	var best time.Duration
	for run := 0; run < *runsFlag; run++ {
		start := time.Now()
		final, err := rankmerge.Merge(ctx, lists)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bench: %v\n", err)
			os.Exit(1)
		}
		if len(final) != items {
			fmt.Fprintf(os.Stderr, "bench: merged %d items, expected %d\n", len(final), items)
			os.Exit(1)
		}
		if best == 0 || elapsed < best {
			best = elapsed
		}
		fmt.Printf("Run %d: %v (%.2fM items/sec)\n",
			run+1, elapsed, float64(items)/elapsed.Seconds()/1e6)
	}

	fmt.Printf("\nBest: %v (%.2fM items/sec)\n", best, float64(items)/best.Seconds()/1e6)
	fmt.Printf("Peak RSS: %.1f MiB\n", float64(getMaxRSS())/(1<<20))
}
