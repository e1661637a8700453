package memstore

import (
	"context"
	"sort"

	"casino-settlement/internal/store"
)

// checkEntry enforces journal uniqueness. Callers hold s.mu.
func (s *Store) checkEntry(e store.JournalEntry) error {
	if _, ok := s.entryIndex[entryKey{e.Tenant, e.TxID}]; ok {
		return store.ErrDuplicate
	}
	if e.Kind == store.KindRollback {
		if _, ok := s.rollbacks[entryKey{e.Tenant, e.RefTxID}]; ok {
			return store.ErrDuplicate
		}
	}
	return nil
}

// appendEntry callers hold s.mu for writing.
func (s *Store) appendEntry(e store.JournalEntry) {
	s.entryIndex[entryKey{e.Tenant, e.TxID}] = len(s.journal)
	s.journal = append(s.journal, e)
	if e.Kind == store.KindRollback {
		s.rollbacks[entryKey{e.Tenant, e.RefTxID}] = e.TxID
	}
}

func (s *Store) getEntry(tenant, txID string) (*store.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.entryIndex[entryKey{tenant, txID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	e := s.journal[i]
	return &e, nil
}

func (s *Store) GetEntry(_ context.Context, tenant, txID string) (*store.JournalEntry, error) {
	return s.getEntry(tenant, txID)
}

func (s *Store) ListEntries(_ context.Context, f store.JournalFilter, limit, offset int) ([]store.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	var matched []store.JournalEntry
	for _, e := range s.journal {
		if e.Tenant != f.Tenant ||
			(f.PlayerID != "" && e.PlayerID != f.PlayerID) ||
			(f.RoundID != "" && e.RoundID != f.RoundID) ||
			(f.Kind != "" && e.Kind != f.Kind) ||
			(f.From != nil && e.CreatedAt.Before(*f.From)) ||
			(f.To != nil && !e.CreatedAt.Before(*f.To)) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].TxID > matched[j].TxID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, limit, offset), nil
}

func (s *Store) ListRoundActivity(_ context.Context, tenant, playerID string, after *store.RoundCursor, limit int) ([]store.RoundActivity, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	last := map[string]store.RoundActivity{}
	for _, e := range s.journal {
		if e.Tenant != tenant || e.PlayerID != playerID || e.RoundID == "" {
			continue
		}
		a, ok := last[e.RoundID]
		if !ok || e.CreatedAt.After(a.LastActivityAt) {
			last[e.RoundID] = store.RoundActivity{RoundID: e.RoundID, LastActivityAt: e.CreatedAt}
		}
	}
	s.mu.RUnlock()

	out := make([]store.RoundActivity, 0, len(last))
	for _, a := range last {
		if after != nil && !activityBefore(a, *after) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return activityBefore(out[j], store.RoundCursor{LastActivityAt: out[i].LastActivityAt, RoundID: out[i].RoundID})
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// activityBefore reports whether a sorts strictly after the cursor in
// newest-first order.
func activityBefore(a store.RoundActivity, c store.RoundCursor) bool {
	if a.LastActivityAt.Equal(c.LastActivityAt) {
		return a.RoundID < c.RoundID
	}
	return a.LastActivityAt.Before(c.LastActivityAt)
}

func (s *Store) ListEntriesForRounds(_ context.Context, tenant, playerID string, roundIDs []string) ([]store.JournalEntry, error) {
	want := make(map[string]struct{}, len(roundIDs))
	for _, id := range roundIDs {
		want[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.JournalEntry
	for _, e := range s.journal {
		if e.Tenant != tenant || e.PlayerID != playerID {
			continue
		}
		if _, ok := want[e.RoundID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetRound(_ context.Context, tenant, playerID, roundID string) (*store.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[roundKey{tenant, playerID, roundID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRounds(_ context.Context, tenant, playerID string, roundIDs []string) ([]store.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Round, 0, len(roundIDs))
	for _, id := range roundIDs {
		if r, ok := s.rounds[roundKey{tenant, playerID, id}]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
