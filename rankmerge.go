package rankmerge

import (
	"cmp"
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	rankerrors "github.com/tessro/rankmerge/errors"
)

// Merge combines one sorted list per rank into a single globally sorted list
// using the recursive-doubling protocol over an in-process mesh. lists[r] is
// rank r's local list and must already be sorted ascending; the group size is
// len(lists).
//
// The returned slice is sorted ascending and is the multiset union of all
// input lists. Inputs are not modified.
//
// Every rank runs as its own goroutine; the first failure cancels the group,
// which unblocks any rank still waiting on a peer. For merging across
// processes, build Workers directly against a tcpmesh transport instead.
func Merge[T cmp.Ordered](ctx context.Context, lists [][]T, opts ...Option) ([]T, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	size := len(lists)
	if size == 0 {
		return nil, fmt.Errorf("%w: no lists", rankerrors.ErrInvalidGroupSize)
	}

	session := cfg.sessionID
	if session == "" {
		session = uuid.NewString()
	}
	log := cfg.logger.With(zap.String("session", session))
	// The session logger goes last so it wins over any WithLogger in opts
	// (it already wraps that logger).
	sessionOpts := append(append([]Option(nil), opts...), WithLogger(log))

	mesh, err := NewMesh[T](size, cfg.linkBuffer)
	if err != nil {
		return nil, err
	}

	// Construct every worker before launching any, so configuration errors
	// surface synchronously instead of as a cancelled group.
	workers := make([]*Worker[T], size)
	for rank := range lists {
		ep, err := mesh.Endpoint(rank)
		if err != nil {
			return nil, err
		}
		workers[rank], err = NewWorker(rank, size, lists[rank], ep, sessionOpts...)
		if err != nil {
			return nil, err
		}
	}

	log.Debug("merge starting", zap.Int("size", size))

	var final []T
	g, gctx := errgroup.WithContext(ctx)
	for rank := range workers {
		rank := rank
		g.Go(func() error {
			out, err := workers[rank].Run(gctx)
			if err != nil {
				return err
			}
			if rank == 0 {
				final = out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug("merge complete", zap.Int("count", len(final)))
	return final, nil
}
