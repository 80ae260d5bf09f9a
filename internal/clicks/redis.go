package clicks

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS: counter, window. ARGV: counter ttl ms, window ttl ms.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local opened = 0
if redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[2]) then
	opened = 1
end
return {n, opened}
`)

var takeScript = redis.NewScript(`
local n = redis.call('GET', KEYS[1])
redis.call('DEL', KEYS[1], KEYS[2])
return n
`)

var restoreScript = redis.NewScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// RedisCounter keeps pending clicks in redis so every api-service replica
// adds to the same window.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func Key(code string) string {
	return "code:" + code + ":clicks"
}

// WindowKey marks a scheduled flush for code.
func WindowKey(code string) string {
	return "code:" + code + ":flush"
}

func (r *RedisCounter) Incr(ctx context.Context, code string, counterTTL, windowTTL time.Duration) (int64, bool, error) {
	vals, err := incrScript.Run(ctx, r.client,
		[]string{Key(code), WindowKey(code)},
		counterTTL.Milliseconds(), windowTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(vals) != 2 {
		return 0, false, errors.New("clicks: unexpected incr reply")
	}
	return vals[0], vals[1] == 1, nil
}

func (r *RedisCounter) Take(ctx context.Context, code string) (int64, error) {
	n, err := takeScript.Run(ctx, r.client, []string{Key(code), WindowKey(code)}).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *RedisCounter) Restore(ctx context.Context, code string, n int64, ttl time.Duration) error {
	return restoreScript.Run(ctx, r.client, []string{Key(code)}, n, ttl.Milliseconds()).Err()
}

func (r *RedisCounter) Release(ctx context.Context, code string) error {
	return r.client.Del(ctx, WindowKey(code)).Err()
}

func (r *RedisCounter) Peek(ctx context.Context, code string) (int64, error) {
	n, err := r.client.Get(ctx, Key(code)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
