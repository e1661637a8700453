package idempotency

import (
	"context"
	"errors"
	"time"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/store"

	"github.com/google/uuid"
)

func newToken() string {
	return uuid.NewString()
}

// StoreBackend keeps records in the repository. The unique insert on
// (tenant, caller, key) decides which concurrent caller proceeds.
type StoreBackend struct {
	store store.IdempotencyStore
	lease time.Duration
}

func NewStoreBackend(st store.IdempotencyStore, lease time.Duration) *StoreBackend {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &StoreBackend{store: st, lease: lease}
}

func (b *StoreBackend) Reserve(ctx context.Context, res Reservation, now time.Time) (*store.IdempotencyRecord, bool, error) {
	rec := store.IdempotencyRecord{
		IdempotencyScope: res.Scope,
		PayloadHash:      res.PayloadHash,
		Token:            res.Token,
		Status:           store.IdempotencyInFlight,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        res.ExpiresAt,
	}
	for attempt := 0; attempt < 2; attempt++ {
		created, err := b.store.InsertIdempotency(ctx, rec)
		if err != nil {
			return nil, false, err
		}
		if created {
			return nil, true, nil
		}
		existing, err := b.store.GetIdempotency(ctx, res.Scope)
		if errors.Is(err, store.ErrNotFound) {
			// Purged between insert and read.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		stale := existing.Status == store.IdempotencyInFlight && existing.UpdatedAt.Before(now.Add(-b.lease))
		expired := !existing.ExpiresAt.After(now)
		if stale || expired {
			ok, err := b.store.ReclaimIdempotency(ctx, rec, now.Add(-b.lease))
			if err != nil {
				return nil, false, err
			}
			if ok {
				return nil, true, nil
			}
			continue
		}
		return existing, false, nil
	}
	return nil, false, errs.ErrOperationInProgress
}

func (b *StoreBackend) Complete(ctx context.Context, res Reservation, status store.IdempotencyStatus, response []byte, errorCode string, now time.Time) error {
	return b.store.CompleteIdempotency(ctx, res.Scope, res.Token, status, response, errorCode, now)
}

func (b *StoreBackend) Release(ctx context.Context, res Reservation) error {
	return b.store.DeleteIdempotency(ctx, res.Scope, res.Token)
}

// Purge drops records whose retention has lapsed.
func (b *StoreBackend) Purge(ctx context.Context, before time.Time) (int64, error) {
	return b.store.PurgeIdempotency(ctx, before)
}
