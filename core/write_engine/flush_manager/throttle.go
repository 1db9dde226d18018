package flushmanager

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttle caps write-back throughput in bytes per second. A nil Throttle
// does not limit.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns nil when bytesPerSec is not positive. burst is raised
// to at least one page so a single page write can always proceed.
func NewThrottle(bytesPerSec int64, pageSize int) *Throttle {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < pageSize {
		burst = pageSize
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Wait blocks until n bytes may be written or ctx is done.
func (t *Throttle) Wait(ctx context.Context, n int) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.WaitN(ctx, n); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}
