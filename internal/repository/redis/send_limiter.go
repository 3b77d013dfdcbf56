package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

const sendLimitPrefix = "sms_send_limit:"

// slidingWindowLua trims entries at or before the cutoff, then records the
// send only when the remaining count is under the limit. Scores are unix
// milliseconds and are passed through as strings. Returns {allowed, count}.
var slidingWindowLua = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local cutoff = ARGV[2]
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, count}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, ttl)
return {1, count + 1}
`)

// releaseLua removes one recorded send.
var releaseLua = redis.NewScript(`
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

// SendLimiter caps SMS sends per phone across sessions with a sliding
// window stored in a Redis sorted set.
type SendLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewSendLimiter(client redis.Scripter, limit int, window time.Duration, logger *zap.Logger) *SendLimiter {
	return &SendLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Reserve records one send for key and reports whether it fits in the
// window. A refused send is not recorded. The returned token identifies the
// recorded send for Release.
func (l *SendLimiter) Reserve(ctx context.Context, key string) (string, bool, error) {
	now := l.now().UnixMilli()
	windowMs := l.window.Milliseconds()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	res, err := slidingWindowLua.Run(ctx, l.client,
		[]string{sendLimitPrefix + key},
		strconv.FormatInt(now, 10),
		strconv.FormatInt(now-windowMs, 10),
		l.limit,
		member,
		strconv.FormatInt(windowMs, 10)).Int64Slice()
	if err != nil {
		return "", false, fmt.Errorf("failed to evaluate send limit: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("unexpected send limit reply: %v", res)
	}

	allowed := res[0] == 1
	if !allowed {
		l.logger.Debug("SMS send limit reached",
			util.String("key", key),
			util.Int("count", int(res[1])),
			util.Int("limit", l.limit))
		return "", false, nil
	}
	return member, true, nil
}

// Release gives back a send recorded by Reserve, for a message that was
// never delivered.
func (l *SendLimiter) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseLua.Run(ctx, l.client, []string{sendLimitPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release send: %w", err)
	}
	return nil
}
