package supervisor

import (
	"context"
	"time"
)

// pollUntil evaluates cond every interval until it returns true, returns an
// error, the timeout elapses or ctx is done. It reports whether cond was met.
func pollUntil(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) (bool, error) {
	if ok, err := cond(); ok || err != nil {
		return ok, err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			// One last look so a slow final interval is not lost.
			return cond()
		case <-ticker.C:
			if ok, err := cond(); ok || err != nil {
				return ok, err
			}
		}
	}
}
