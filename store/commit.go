package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ctdsync/core/entity"
)

// CommitResult aggregates per-entry commit outcomes into a bitmask
// (spec §7: "aggregated (bitwise OR of per-store results)").
type CommitResult uint32

const (
	CommitOK             CommitResult = 0
	CommitKernelRejected CommitResult = 1 << 0
	CommitPartial        CommitResult = 1 << 1
)

// Commit pushes every ALIVE entry through commitFn (an adapter over the
// concrete kernelapi client, since CacheStore itself is payload-agnostic
// and must not import kernelapi). Per-entry failures are not retried
// inside the core (spec §7); they are aggregated into the returned
// CommitResult and the first error is returned for logging.
func (s *CacheStore) Commit(ctx context.Context, commitFn func(context.Context, entity.Payload) error) (CommitResult, error) {
	var result CommitResult
	var firstErr error
	for e := s.order.Front(); e != nil; e = e.Next() {
		obj := e.Value.(*entity.CacheObject)
		if obj.Status != entity.StatusAlive {
			continue
		}
		if err := commitFn(ctx, obj.Payload); err != nil {
			result |= CommitKernelRejected
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "commit key %x", obj.Payload.HashKey())
			}
		}
	}
	if firstErr != nil && result&CommitKernelRejected != 0 && s.Len() > 0 {
		result |= CommitPartial
	}
	return result, firstErr
}
