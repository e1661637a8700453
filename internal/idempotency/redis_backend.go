package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"casino-settlement/internal/store"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps records in Redis. An in-flight claim lives for the
// lease only, so a crashed handler frees its key without a janitor; a
// finished record is rewritten with the full retention TTL.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
}

type redisRecord struct {
	PayloadHash string                  `json:"payload_hash"`
	Status      store.IdempotencyStatus `json:"status"`
	Response    json.RawMessage         `json:"response,omitempty"`
	ErrorCode   string                  `json:"error_code,omitempty"`
	Token       string                  `json:"token"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
}

var completeScript = redis.NewScript(`
local cur = redis.call("get", KEYS[1])
if not cur then return 0 end
if cjson.decode(cur).token ~= ARGV[1] then return 0 end
redis.call("set", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local cur = redis.call("get", KEYS[1])
if not cur then return 0 end
if cjson.decode(cur).token ~= ARGV[1] then return 0 end
return redis.call("del", KEYS[1])
`)

func NewRedisBackend(client redis.UniversalClient, lease time.Duration) *RedisBackend {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisBackend{client: client, prefix: "idem:", lease: lease}
}

func (b *RedisBackend) key(scope store.IdempotencyScope) string {
	return b.prefix + scope.Tenant + ":" + scope.Caller + ":" + scope.Key
}

func (b *RedisBackend) Reserve(ctx context.Context, res Reservation, now time.Time) (*store.IdempotencyRecord, bool, error) {
	val, err := json.Marshal(redisRecord{
		PayloadHash: res.PayloadHash,
		Status:      store.IdempotencyInFlight,
		Token:       res.Token,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   res.ExpiresAt,
	})
	if err != nil {
		return nil, false, err
	}
	k := b.key(res.Scope)
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := b.client.SetNX(ctx, k, val, b.lease).Result()
		if err != nil {
			return nil, false, err
		}
		if ok {
			return nil, true, nil
		}
		raw, err := b.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		var rec redisRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, false, err
		}
		return &store.IdempotencyRecord{
			IdempotencyScope: res.Scope,
			PayloadHash:      rec.PayloadHash,
			Status:           rec.Status,
			Response:         rec.Response,
			ErrorCode:        rec.ErrorCode,
			CreatedAt:        rec.CreatedAt,
			UpdatedAt:        rec.UpdatedAt,
			ExpiresAt:        rec.ExpiresAt,
		}, false, nil
	}
	return nil, false, errors.New("idempotency key churned during reserve")
}

func (b *RedisBackend) Complete(ctx context.Context, res Reservation, status store.IdempotencyStatus, response []byte, errorCode string, now time.Time) error {
	ttl := res.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return b.Release(ctx, res)
	}
	val, err := json.Marshal(redisRecord{
		PayloadHash: res.PayloadHash,
		Status:      status,
		Response:    response,
		ErrorCode:   errorCode,
		Token:       res.Token,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   res.ExpiresAt,
	})
	if err != nil {
		return err
	}
	n, err := completeScript.Run(ctx, b.client, []string{b.key(res.Scope)}, res.Token, val, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrStale
	}
	return nil
}

func (b *RedisBackend) Release(ctx context.Context, res Reservation) error {
	return releaseScript.Run(ctx, b.client, []string{b.key(res.Scope)}, res.Token).Err()
}
