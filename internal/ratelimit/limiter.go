// Package ratelimit bounds how often an actor may hit the authentication
// endpoints. Limiters count events per key inside a sliding window.
package ratelimit

import (
	"context"
	"time"
)

// Limiter admits at most limit events per key inside any window-long span.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
