package memstore

import (
	"context"

	"casino-settlement/internal/store"
)

func (s *Store) InsertRobot(_ context.Context, r store.Robot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idKey{r.Tenant, r.ID}
	if _, ok := s.robots[k]; ok {
		return store.ErrDuplicate
	}
	s.robots[k] = r
	return nil
}

func (s *Store) GetRobot(_ context.Context, tenant, id string) (*store.Robot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.robots[idKey{tenant, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) SetRobotActive(_ context.Context, tenant, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idKey{tenant, id}
	r, ok := s.robots[k]
	if !ok {
		return store.ErrNotFound
	}
	r.Active = active
	s.robots[k] = r
	return nil
}

func (s *Store) InsertBinding(_ context.Context, b store.RobotBinding) (store.RobotBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idKey{b.Tenant, b.GameID}
	b.Version = int64(len(s.bindings[k])) + 1
	s.bindings[k] = append(s.bindings[k], b)
	return b, nil
}

func (s *Store) CurrentBinding(_ context.Context, tenant, gameID string) (*store.RobotBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.bindings[idKey{tenant, gameID}]
	if len(history) == 0 {
		return nil, store.ErrNotFound
	}
	b := history[len(history)-1]
	return &b, nil
}

func (s *Store) ListBindings(_ context.Context, tenant, gameID string) ([]store.RobotBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.bindings[idKey{tenant, gameID}]
	out := make([]store.RobotBinding, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}
	return out, nil
}
