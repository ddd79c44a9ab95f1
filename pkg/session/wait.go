package session

import (
	"context"
	"time"
)

// waitFor polls cond until it returns true, the timeout elapses, or ctx
// is done. The one bounded-wait primitive for every "await external
// condition" site in the orchestrator.
func waitFor(ctx context.Context, interval, timeout time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if cond() {
				return true
			}
		}
	}
}
