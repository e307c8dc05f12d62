package repair

import (
	"context"
	"log"
	"time"

	"sessiontoken/internal/token"
)

// SyncFunc pushes a partition token to the replica at addr.
type SyncFunc func(ctx context.Context, addr, pk string, t *token.Token) error

// ReadRepairer pushes merged progress to stale replicas so they converge.
type ReadRepairer struct {
	sync    SyncFunc
	timeout time.Duration
}

// NewReadRepairer creates a new read repairer.
func NewReadRepairer(sync SyncFunc, timeout time.Duration) *ReadRepairer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadRepairer{
		sync:    sync,
		timeout: timeout,
	}
}

// Repair asynchronously sends merged to every stale replica.
// This is fire-and-forget: it logs errors but does not block or retry.
// The returned channel is closed when all attempts have finished.
func (r *ReadRepairer) Repair(pk string, merged *token.Token, stale []string) <-chan struct{} {
	done := make(chan struct{})
	if len(stale) == 0 || merged == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Read repair panic for partition %s: %v", pk, err)
			}
		}()

		// Detached from the request context
		repairCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		log.Printf("Read repair triggered for partition=%s: %d stale replicas, token=%s", pk, len(stale), merged)

		repairCount := 0
		failureCount := 0
		for _, addr := range stale {
			if err := r.sync(repairCtx, addr, pk, merged); err != nil {
				log.Printf("Read repair failed for replica %s (partition=%s): %v", addr, pk, err)
				failureCount++
			} else {
				repairCount++
			}
		}

		log.Printf("Read repair completed for partition=%s: %d repaired, %d failed", pk, repairCount, failureCount)
	}()

	return done
}
