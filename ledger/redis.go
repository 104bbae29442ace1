package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep the begin/complete transitions atomic so that cross-process
// callers observe the same linearizable Pending -> terminal ordering as the
// in-memory store.

var redisBeginScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl_ms = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "status", "pending", "owner", owner)
  redis.call("PEXPIRE", key, ttl_ms)
  return {"owner"}
end

local status = redis.call("HGET", key, "status")
if status == "pending" then
  return {"pending"}
end

return {status,
  redis.call("HGET", key, "payer") or "",
  redis.call("HGET", key, "transaction") or "",
  redis.call("HGET", key, "reason") or ""}
`)

var redisCompleteScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local status = ARGV[2]
local payer = ARGV[3]
local transaction = ARGV[4]
local reason = ARGV[5]
local ttl_ms = ARGV[6]

if redis.call("HGET", key, "owner") ~= owner then
  return 0
end
if redis.call("HGET", key, "status") ~= "pending" then
  return 0
end

redis.call("HSET", key, "status", status, "payer", payer, "transaction", transaction, "reason", reason)
redis.call("PEXPIRE", key, ttl_ms)
return 1
`)

var redisDiscardScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call("HGET", key, "owner") == owner and redis.call("HGET", key, "status") == "pending" then
  redis.call("DEL", key)
  return 1
end
return 0
`)

var redisDeliverScript = redis.NewScript(`
local key = KEYS[1]

if redis.call("HGET", key, "status") ~= "settled" then
  return -1
end
if redis.call("HGET", key, "delivered") == "1" then
  return 0
end
redis.call("HSET", key, "delivered", "1")
return 1
`)

// Redis is a Store backed by a shared Redis instance, for deployments where
// several gate or facilitator processes must agree on proof consumption.
type Redis struct {
	client       redis.UniversalClient
	prefix       string
	retention    time.Duration
	pollInterval time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRetention sets how long terminal records are kept for replay
// deduplication. Default is 24 hours.
func WithRetention(d time.Duration) RedisOption {
	return func(r *Redis) { r.retention = d }
}

// WithPollInterval sets how often waiters poll a pending record. Default is
// 100 milliseconds.
func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.pollInterval = d }
}

// NewRedis creates a Redis-backed verification ledger.
func NewRedis(client redis.UniversalClient, prefix string, opts ...RedisOption) *Redis {
	if prefix == "" {
		prefix = "x402:ledger"
	}
	r := &Redis{
		client:       client,
		prefix:       prefix,
		retention:    24 * time.Hour,
		pollInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) redisKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, key.Network, key.Nonce)
}

// Resolve implements Store.
func (r *Redis) Resolve(ctx context.Context, key Key, window time.Duration, check CheckFunc) (*Record, error) {
	owner, err := newOwnerToken()
	if err != nil {
		return nil, err
	}

	// Pending entries carry the verification window (plus slack) as their
	// TTL so a crashed owner cannot wedge the key forever.
	pendingTTL := window + 5*time.Second

	raw, err := redisBeginScript.Run(ctx, r.client, []string{r.redisKey(key)},
		owner, int64(pendingTTL/time.Millisecond)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	fields, ok := raw.([]interface{})
	if !ok || len(fields) == 0 {
		return nil, fmt.Errorf("%w: unexpected begin reply", ErrTransient)
	}

	switch asString(fields[0]) {
	case "owner":
		return r.runCheck(ctx, key, owner, window, check)
	case "pending":
		return r.await(ctx, key, window)
	default:
		return recordFromFields(key, fields), nil
	}
}

// runCheck performs the authoritative check as the owner of the pending record.
func (r *Redis) runCheck(ctx context.Context, key Key, owner string, window time.Duration, check CheckFunc) (*Record, error) {
	tctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	outcome, err := check(tctx)

	// Completion and discard run on a background context: the record must
	// reach a consistent state even when the caller has gone away.
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cleanupCancel()

	switch {
	case err == nil:
		state := StateRejected
		if outcome.Settled {
			state = StateSettled
		}
		rec := &Record{
			Key:         key,
			State:       state,
			Payer:       outcome.Payer,
			Transaction: outcome.Transaction,
			Reason:      outcome.Reason,
			UpdatedAt:   time.Now(),
		}
		if err := r.complete(cleanupCtx, key, owner, rec); err != nil {
			return nil, err
		}
		return rec, nil

	case ctx.Err() != nil:
		_, _ = redisDiscardScript.Run(cleanupCtx, r.client, []string{r.redisKey(key)}, owner).Result()
		return nil, ctx.Err()

	case errors.Is(err, context.DeadlineExceeded):
		rec := &Record{Key: key, State: StateExpired, UpdatedAt: time.Now()}
		if err := r.complete(cleanupCtx, key, owner, rec); err != nil {
			return nil, err
		}
		return rec, nil

	default:
		_, _ = redisDiscardScript.Run(cleanupCtx, r.client, []string{r.redisKey(key)}, owner).Result()
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
}

func (r *Redis) complete(ctx context.Context, key Key, owner string, rec *Record) error {
	res, err := redisCompleteScript.Run(ctx, r.client, []string{r.redisKey(key)},
		owner, string(rec.State), rec.Payer, rec.Transaction, rec.Reason,
		int64(r.retention/time.Millisecond)).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if res != 1 {
		// Lost ownership, most likely because the pending TTL lapsed and
		// another process took over. Their outcome is authoritative.
		return fmt.Errorf("%w: lost record ownership", ErrTransient)
	}
	return nil
}

// await polls a pending record owned by another process until it turns
// terminal or the caller gives up.
func (r *Redis) await(ctx context.Context, key Key, window time.Duration) (*Record, error) {
	deadline := time.Now().Add(window + 5*time.Second)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		rec, found, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			// The owner discarded the key after a transient failure.
			return nil, fmt.Errorf("%w: concurrent verification aborted", ErrTransient)
		}
		if rec.State.Terminal() {
			return rec, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: pending record outlived its window", ErrTransient)
		}
	}
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key Key) (*Record, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.redisKey(key)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return &Record{
		Key:         key,
		State:       State(fields["status"]),
		Payer:       fields["payer"],
		Transaction: fields["transaction"],
		Reason:      fields["reason"],
	}, true, nil
}

// MarkDelivered implements Store.
func (r *Redis) MarkDelivered(ctx context.Context, key Key) (bool, error) {
	res, err := redisDeliverScript.Run(ctx, r.client, []string{r.redisKey(key)}).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if res < 0 {
		return false, fmt.Errorf("ledger: no settled record for %s/%s", key.Network, key.Nonce)
	}
	return res == 1, nil
}

func newOwnerToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("ledger: owner token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func recordFromFields(key Key, fields []interface{}) *Record {
	rec := &Record{Key: key, State: State(asString(fields[0]))}
	if len(fields) > 1 {
		rec.Payer = asString(fields[1])
	}
	if len(fields) > 2 {
		rec.Transaction = asString(fields[2])
	}
	if len(fields) > 3 {
		rec.Reason = asString(fields[3])
	}
	return rec
}
