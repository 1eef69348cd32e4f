package xapibench

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// throttle caps how many batches per second the insert loop starts. A nil
// throttle never waits.
type throttle struct {
	limiter *rate.Limiter
}

// newThrottle returns nil when batchesPerSecond is not positive.
func newThrottle(batchesPerSecond float64) *throttle {
	if batchesPerSecond <= 0 {
		return nil
	}
	burst := int(math.Max(1, math.Floor(batchesPerSecond)))
	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(batchesPerSecond), burst),
	}
}

func (t *throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
