package cache

import (
	"context"
	"time"
)

// OccupancyCache holds a short-lived snapshot of occupied table codes so
// that floor-plan overlays polling the backend do not hit the store on
// every refresh. Mutations invalidate it; a miss falls through to the
// repository.
type OccupancyCache interface {
	Get(ctx context.Context) ([]string, bool, error)
	Set(ctx context.Context, tables []string, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopOccupancyCache struct{}

func (NoopOccupancyCache) Get(context.Context) ([]string, bool, error) {
	return nil, false, nil
}

func (NoopOccupancyCache) Set(context.Context, []string, time.Duration) error {
	return nil
}

func (NoopOccupancyCache) Invalidate(context.Context) error {
	return nil
}
