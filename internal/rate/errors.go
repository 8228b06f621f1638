package rate

import "errors"

var (
	// ErrRateLimited reports an exhausted attempt budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
