package verification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeKeyPrefix = "verify:"

// consumeScript deletes the pending registration only when the submitted
// code matches, so a wrong guess does not burn the session and a correct
// code can be spent at most once.
var consumeScript = redis.NewScript(`
-- KEYS[1] = pending key
-- ARGV[1] = submitted code
local raw = redis.call('GET', KEYS[1])
if raw == false then
  return false
end
local pending = cjson.decode(raw)
if pending.code ~= ARGV[1] then
  return ''
end
redis.call('DEL', KEYS[1])
return raw
`)

// RedisCodes stores pending registrations in Redis under a TTL matching
// the code expiry window.
type RedisCodes struct {
	rdb *redis.Client
}

func NewRedisCodes(rdb *redis.Client) *RedisCodes {
	return &RedisCodes{rdb: rdb}
}

func (r *RedisCodes) Put(ctx context.Context, phone string, p Pending, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, codeKeyPrefix+phone, raw, ttl).Err()
}

func (r *RedisCodes) ConsumeIfMatch(ctx context.Context, phone, code string, now time.Time) (Pending, bool, error) {
	res, err := consumeScript.Run(ctx, r.rdb, []string{codeKeyPrefix + phone}, code).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No pending registration: expired or never started.
			return Pending{}, false, nil
		}
		return Pending{}, false, err
	}
	raw, _ := res.(string)
	if raw == "" {
		// Code mismatch; the session stays parked.
		return Pending{}, false, nil
	}

	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Pending{}, false, err
	}
	// The Redis TTL already bounds the window; the timestamp check covers
	// clock drift between Put and expiry.
	if !p.ExpiresAt.After(now) {
		return Pending{}, false, nil
	}
	return p, true, nil
}
