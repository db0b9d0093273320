package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

const attemptsPrefix = "auth:login:attempts:"

// registerScript appends one attempt to the sorted set, trims entries that
// fell out of the window and keeps the key alive for one window.
var registerScript = redis.NewScript(`
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return redis.call("ZCARD", KEYS[1])
`)

// countScript trims and counts the attempts inside the window.
var countScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
return redis.call("ZCARD", KEYS[1])
`)

// LoginRateLimiter is a sliding-window attempt counter keyed by source
// address, shared by every instance of the service.
type LoginRateLimiter struct {
	rdb        redis.Scripter
	max        int
	window     time.Duration
	suspicious int
	clock      port.Clock
}

// NewLoginRateLimiter limits an address to limit attempts per window and flags
// it as suspicious from suspicious attempts on.
func NewLoginRateLimiter(rdb redis.Scripter, limit int, window time.Duration, suspicious int, clock port.Clock) *LoginRateLimiter {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &LoginRateLimiter{rdb: rdb, max: limit, window: window, suspicious: suspicious, clock: clock}
}

func (l *LoginRateLimiter) TooManyAttempts(ctx context.Context, addr string, window time.Duration) (bool, error) {
	if l.max <= 0 {
		return false, nil
	}
	n, err := l.count(ctx, addr, window)
	if err != nil {
		return false, err
	}
	return n >= l.max, nil
}

func (l *LoginRateLimiter) RegisterAttempt(ctx context.Context, addr string, at time.Time) error {
	member := strconv.FormatInt(at.UnixNano(), 10) + "-" + uuid.NewString()
	floor := at.Add(-l.window).UnixMilli()
	return registerScript.Run(ctx, l.rdb, []string{attemptsPrefix + addr},
		at.UnixMilli(), member, floor, l.window.Milliseconds()).Err()
}

func (l *LoginRateLimiter) IsSuspiciousAddress(ctx context.Context, addr string) (bool, error) {
	if l.suspicious <= 0 {
		return false, nil
	}
	n, err := l.count(ctx, addr, l.window)
	if err != nil {
		return false, err
	}
	return n >= l.suspicious, nil
}

func (l *LoginRateLimiter) count(ctx context.Context, addr string, window time.Duration) (int, error) {
	if window <= 0 {
		window = l.window
	}
	floor := l.clock.Now().Add(-window).UnixMilli()
	res, err := countScript.Run(ctx, l.rdb, []string{attemptsPrefix + addr}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("count login attempts: %w", err)
	}
	return int(res), nil
}

var _ port.LoginRateLimiter = (*LoginRateLimiter)(nil)
