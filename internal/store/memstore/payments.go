package memstore

import (
	"context"
	"sort"

	"casino-settlement/internal/store"
)

func (s *Store) GetWithdrawal(_ context.Context, tenant, id string) (*store.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[idKey{tenant, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (s *Store) ListWithdrawals(_ context.Context, tenant, playerID string, limit, offset int) ([]store.Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	var out []store.Withdrawal
	for _, w := range s.withdrawals {
		if w.Tenant == tenant && w.PlayerID == playerID {
			out = append(out, w)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (s *Store) InsertDepositSession(_ context.Context, d store.DepositSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idKey{d.Tenant, d.ProviderTxID}
	if _, ok := s.deposits[k]; ok {
		return store.ErrDuplicate
	}
	s.deposits[k] = d
	return nil
}

func (s *Store) GetDepositSession(_ context.Context, tenant, providerTxID string) (*store.DepositSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deposits[idKey{tenant, providerTxID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}
