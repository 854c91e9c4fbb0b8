package allocation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/talgya/territory/internal/territory"
)

// Balances are stored in a hash per (actor, activity) with fields "avail"
// and "held", in thousandths of a kilometre so HINCRBY stays exact.
const milliKm = 1000

var reserveScript = redis.NewScript(`
local avail = tonumber(redis.call('HGET', KEYS[1], 'avail') or '0')
local want = tonumber(ARGV[1])
if avail < want then
  return -1
end
redis.call('HINCRBY', KEYS[1], 'avail', -want)
redis.call('HINCRBY', KEYS[1], 'held', want)
return avail - want
`)

var settleScript = redis.NewScript(`
local held = tonumber(redis.call('HGET', KEYS[1], 'held') or '0')
local amount = tonumber(ARGV[1])
if held < amount then
  return -1
end
redis.call('HINCRBY', KEYS[1], 'held', -amount)
if ARGV[2] == 'release' then
  redis.call('HINCRBY', KEYS[1], 'avail', amount)
end
return held - amount
`)

// RedisLedger shares balances between engine processes through Redis.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLedger wraps a client. Keys are namespaced under prefix.
func NewRedisLedger(rdb *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "territory:alloc"
	}
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

func (l *RedisLedger) key(actor territory.Actor, activityID string) string {
	return l.prefix + ":" + actor.Key() + ":" + activityID
}

func toMilli(km float64) int64 {
	return int64(km*milliKm + 0.5)
}

// Credit makes km of an activity available to its actor.
func (l *RedisLedger) Credit(ctx context.Context, actor territory.Actor, activityID string, km float64) error {
	if err := checkAmount(km); err != nil {
		return err
	}
	return l.rdb.HIncrBy(ctx, l.key(actor, activityID), "avail", toMilli(km)).Err()
}

// Reserve holds km for a pending move.
func (l *RedisLedger) Reserve(ctx context.Context, actor territory.Actor, activityID string, km float64) error {
	if err := checkAmount(km); err != nil {
		return err
	}
	left, err := reserveScript.Run(ctx, l.rdb, []string{l.key(actor, activityID)}, toMilli(km)).Int64()
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if left < 0 {
		return fmt.Errorf("%w: %.3f km requested", territory.ErrInsufficientBudget, km)
	}
	return nil
}

// Commit spends a reservation.
func (l *RedisLedger) Commit(ctx context.Context, actor territory.Actor, activityID string, km float64) error {
	return l.settle(ctx, actor, activityID, km, "commit")
}

// Release returns a reservation to the available balance.
func (l *RedisLedger) Release(ctx context.Context, actor territory.Actor, activityID string, km float64) error {
	return l.settle(ctx, actor, activityID, km, "release")
}

func (l *RedisLedger) settle(ctx context.Context, actor territory.Actor, activityID string, km float64, mode string) error {
	left, err := settleScript.Run(ctx, l.rdb, []string{l.key(actor, activityID)}, toMilli(km), mode).Int64()
	if err != nil {
		return fmt.Errorf("%s: %w", mode, err)
	}
	if left < 0 {
		return fmt.Errorf("%s %.3f km: not reserved", mode, km)
	}
	return nil
}

// Available returns the reservable balance of an activity.
func (l *RedisLedger) Available(ctx context.Context, actor territory.Actor, activityID string) (float64, error) {
	v, err := l.rdb.HGet(ctx, l.key(actor, activityID), "avail").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance: %w", err)
	}
	return float64(n) / milliKm, nil
}
