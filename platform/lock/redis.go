// Package lock provides a redis backed mutual exclusion lock for jobs that
// must not overlap across processes.
package lock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"estate_crm_backend/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned when another holder owns the lock.
	ErrHeld = errors.New("lock is held by another run")
	// ErrLost is returned by Extend once the lease expired or changed hands.
	ErrLost = errors.New("lock lease was lost")
)

const keyPrefix = "estate_crm:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that someone else re-acquired is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker hands out leases on named keys.
type Locker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisClient builds a client from the configured REDIS_URL.
func NewRedisClient(cfg config.LockConfig) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}

// New creates a Locker whose leases expire after ttl.
func New(client redis.Cmdable, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes the named lock or returns ErrHeld.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lease, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{client: l.client, key: key, token: token, ttl: l.ttl}, nil
}

// TTL is how long the lease lives after acquisition or the last Extend.
func (l *Lease) TTL() time.Duration {
	return l.ttl
}

// Extend resets the expiry to a full TTL. It returns ErrLost when the key
// expired or another holder took it over in the meantime.
func (l *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("extend lock: %w", err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
