// Package idempotency deduplicates retried mutating requests by a
// caller-supplied key scoped to (tenant, caller).
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/metrics"
	"casino-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

// Reservation is a claimed idempotency scope. Token identifies the claimant
// so only it can complete or release the scope.
type Reservation struct {
	Scope       store.IdempotencyScope
	PayloadHash string
	Token       string
	ExpiresAt   time.Time
}

// Backend persists idempotency records. Reserve must be atomic with respect
// to concurrent callers on the same scope: exactly one of them gets ok=true.
type Backend interface {
	Reserve(ctx context.Context, res Reservation, now time.Time) (existing *store.IdempotencyRecord, ok bool, err error)
	Complete(ctx context.Context, res Reservation, status store.IdempotencyStatus, response []byte, errorCode string, now time.Time) error
	Release(ctx context.Context, res Reservation) error
}

type Guard struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

func NewGuard(backend Backend, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{backend: backend, ttl: ttl, now: time.Now}
}

// SetClock replaces the guard's time source.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

type Request struct {
	Tenant  string
	Caller  string
	Key     string
	Payload any
}

// HashPayload is the SHA-256 of the payload's JSON encoding. Struct fields
// encode in declaration order and map keys sorted, so equal payloads hash
// equally.
func HashPayload(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Execute runs handler at most once per (tenant, caller, key). A completed
// record with the same payload hash is replayed without calling handler and
// replayed reports true. Terminal handler errors are stored and replayed;
// other errors release the key so the caller can retry.
func Execute[T any](ctx context.Context, g *Guard, req Request, handler func(ctx context.Context) (T, error)) (result T, replayed bool, err error) {
	var zero T
	if req.Key == "" {
		return zero, false, errs.ErrMissingIdempotencyKey
	}
	hash, err := HashPayload(req.Payload)
	if err != nil {
		return zero, false, fmt.Errorf("%w: unhashable payload: %v", errs.ErrInvalidRequest, err)
	}
	now := g.now()
	res := Reservation{
		Scope:       store.IdempotencyScope{Tenant: req.Tenant, Caller: req.Caller, Key: req.Key},
		PayloadHash: hash,
		Token:       newToken(),
		ExpiresAt:   now.Add(g.ttl),
	}
	existing, ok, err := g.backend.Reserve(ctx, res, now)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return replay[T](existing, hash)
	}
	metrics.RecordIdempotency("executed")

	result, err = handler(ctx)
	if err != nil {
		if errs.Terminal(err) {
			if cerr := g.backend.Complete(ctx, res, store.IdempotencyFailed, nil, errs.Code(err), g.now()); cerr != nil {
				log.Error().Err(cerr).Str("key", req.Key).Msg("idempotency store failure outcome failed")
			}
		} else if rerr := g.backend.Release(ctx, res); rerr != nil {
			log.Error().Err(rerr).Str("key", req.Key).Msg("idempotency release failed")
		}
		return zero, false, err
	}

	body, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Str("key", req.Key).Msg("idempotency encode result failed")
		return result, false, nil
	}
	if err := g.backend.Complete(ctx, res, store.IdempotencyCompleted, body, "", g.now()); err != nil {
		// The effect is committed; a retry after the lease lapses is caught by
		// journal tx_id uniqueness.
		log.Error().Err(err).Str("key", req.Key).Msg("idempotency complete failed")
	}
	return result, false, nil
}

func replay[T any](rec *store.IdempotencyRecord, hash string) (T, bool, error) {
	var zero T
	if rec.PayloadHash != hash {
		metrics.RecordIdempotency("conflict")
		return zero, false, errs.ErrIdempotencyConflict
	}
	switch rec.Status {
	case store.IdempotencyInFlight:
		metrics.RecordIdempotency("in_progress")
		return zero, false, errs.ErrOperationInProgress
	case store.IdempotencyFailed:
		metrics.RecordIdempotency("replayed")
		return zero, true, errs.FromCode(rec.ErrorCode)
	default:
		metrics.RecordIdempotency("replayed")
		var out T
		if err := json.Unmarshal(rec.Response, &out); err != nil {
			return zero, false, fmt.Errorf("decode stored response: %w", err)
		}
		return out, true, nil
	}
}
