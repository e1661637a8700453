package memstore

import (
	"context"
	"time"

	"casino-settlement/internal/store"
)

func (s *Store) InsertIdempotency(_ context.Context, rec store.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idem[rec.IdempotencyScope]; ok {
		return false, nil
	}
	rec.UpdatedAt = rec.CreatedAt
	s.idem[rec.IdempotencyScope] = rec
	return true, nil
}

func (s *Store) GetIdempotency(_ context.Context, scope store.IdempotencyScope) (*store.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idem[scope]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.Response = append([]byte(nil), rec.Response...)
	return &rec, nil
}

func (s *Store) CompleteIdempotency(_ context.Context, scope store.IdempotencyScope, token string, status store.IdempotencyStatus, response []byte, errorCode string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idem[scope]
	if !ok || rec.Status != store.IdempotencyInFlight || rec.Token != token {
		return store.ErrStale
	}
	rec.Status = status
	rec.Response = append([]byte(nil), response...)
	rec.ErrorCode = errorCode
	rec.UpdatedAt = now
	s.idem[scope] = rec
	return nil
}

func (s *Store) ReclaimIdempotency(_ context.Context, rec store.IdempotencyRecord, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.idem[rec.IdempotencyScope]
	if !ok {
		return false, nil
	}
	stale := cur.Status == store.IdempotencyInFlight && cur.UpdatedAt.Before(staleBefore)
	expired := !cur.ExpiresAt.After(rec.CreatedAt)
	if !stale && !expired {
		return false, nil
	}
	rec.Status = store.IdempotencyInFlight
	rec.Response = nil
	rec.ErrorCode = ""
	rec.UpdatedAt = rec.CreatedAt
	s.idem[rec.IdempotencyScope] = rec
	return true, nil
}

func (s *Store) DeleteIdempotency(_ context.Context, scope store.IdempotencyScope, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.idem[scope]; ok && rec.Token == token && rec.Status == store.IdempotencyInFlight {
		delete(s.idem, scope)
	}
	return nil
}

func (s *Store) PurgeIdempotency(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for scope, rec := range s.idem {
		if !rec.ExpiresAt.After(before) {
			delete(s.idem, scope)
			n++
		}
	}
	return n, nil
}
