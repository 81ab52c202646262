package bootstrap

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type options struct {
	redis *redis.Client
	now   func() time.Time
}

// Option adjusts Build.
type Option func(*options)

// WithRedis reuses an existing client instead of dialing redisAddr. The
// caller keeps ownership of the client.
func WithRedis(client *redis.Client) Option {
	return func(o *options) { o.redis = client }
}

// WithClock replaces time.Now in every service.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
