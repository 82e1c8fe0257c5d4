// Package rankmerge merges P independently sorted lists into one globally
// sorted list by recursive doubling: a butterfly reduction over a virtual
// hypercube that finishes in ceil(log2 P) communication rounds instead of a
// linear gather-then-sort.
//
// Each rank owns a sorted local list. After an all-to-all count exchange,
// every rank simulates the combine tree (Plan) to learn exactly how much data
// it will ever receive, preallocates two ping-pong buffers plus one receive
// buffer, and enters the round loop. At round k ranks are paired by
// rank XOR 2^k: the lower rank of a pair receives its partner's accumulated
// list and merges it in; the higher rank sends everything it has and retires.
// Rank 0 survives every round and ends up holding the full merge.
//
// # Basic Usage
//
// Merging in-process, one goroutine per rank:
//
//	final, err := rankmerge.Merge(ctx, [][]uint64{
//	    {2, 11}, {3, 13}, {5, 7}, {17, 19},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// final == [2 3 5 7 11 13 17 19]
//
// Merging across processes, one Worker per process over TCP:
//
//	ep, err := tcpmesh.Listen(rank, addrs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ep.Close()
//
//	w, err := rankmerge.NewWorker(rank, len(addrs), local, ep)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	final, err := w.Run(ctx)
//
// # Package Structure
//
//   - Public API: rankmerge.go (Merge), worker.go (NewWorker, Run, Stats)
//   - Planning: plan.go (NewPlan: final counts, receive sizes, fingerprint)
//   - Merging: merge.go (stable left-biased two-way merge)
//   - Transports: transport.go (Transport, Message), mesh.go (in-process),
//     tcpmesh/ (multi-process, uint64 payloads)
//   - Result files: resultfile.go (WriteFile, ReadFile), fallocate_*.go
//   - Configuration: options.go (Option, With* functions)
//   - Errors: errors/ (sentinel values shared across packages)
//
// The protocol has no timeouts of its own: a crashed peer leaves its partner
// blocked until the supervising context is cancelled.
package rankmerge
