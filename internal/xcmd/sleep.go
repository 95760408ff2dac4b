package xcmd

import (
	"context"
	"time"
)

// Sleep pauses for d or until the context is canceled, in which case
// the context's error is returned.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
