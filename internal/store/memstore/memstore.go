// Package memstore is an in-memory store.Repository. Balance mutations are
// serialized per key; writes made inside WithBalance are staged and applied
// together on commit.
package memstore

import (
	"context"
	"sync"

	"casino-settlement/internal/store"
)

type entryKey struct{ tenant, txID string }

type roundKey struct{ tenant, playerID, roundID string }

type idKey struct{ tenant, id string }

type Store struct {
	locks *keyLocks

	mu          sync.RWMutex
	balances    map[store.BalanceKey]store.Balance
	journal     []store.JournalEntry
	entryIndex  map[entryKey]int
	rollbacks   map[entryKey]string
	rounds      map[roundKey]store.Round
	robots      map[idKey]store.Robot
	bindings    map[idKey][]store.RobotBinding
	withdrawals map[idKey]store.Withdrawal
	deposits    map[idKey]store.DepositSession
	idem        map[store.IdempotencyScope]store.IdempotencyRecord
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		locks:       newKeyLocks(),
		balances:    map[store.BalanceKey]store.Balance{},
		entryIndex:  map[entryKey]int{},
		rollbacks:   map[entryKey]string{},
		rounds:      map[roundKey]store.Round{},
		robots:      map[idKey]store.Robot{},
		bindings:    map[idKey][]store.RobotBinding{},
		withdrawals: map[idKey]store.Withdrawal{},
		deposits:    map[idKey]store.DepositSession{},
		idem:        map[store.IdempotencyScope]store.IdempotencyRecord{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) WithBalance(ctx context.Context, key store.BalanceKey, fn func(tx store.LedgerTx) error) error {
	unlock := s.locks.lock(key)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	bal, ok := s.balances[key]
	s.mu.RUnlock()
	if !ok {
		bal = store.Balance{BalanceKey: key}
	}

	tx := newMemTx(s, bal)
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := tx.validate(); err != nil {
		return err
	}
	tx.apply()
	return nil
}

func (s *Store) GetBalance(_ context.Context, key store.BalanceKey) (store.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bal, ok := s.balances[key]; ok {
		return bal, nil
	}
	return store.Balance{BalanceKey: key}, nil
}

// keyLocks hands out one mutex per balance key and drops it once no caller
// holds or waits for it.
type keyLocks struct {
	mu sync.Mutex
	m  map[store.BalanceKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: map[store.BalanceKey]*refMutex{}}
}

func (k *keyLocks) lock(key store.BalanceKey) func() {
	k.mu.Lock()
	rm, ok := k.m[key]
	if !ok {
		rm = &refMutex{}
		k.m[key] = rm
	}
	rm.refs++
	k.mu.Unlock()

	rm.Lock()
	return func() {
		rm.Unlock()
		k.mu.Lock()
		rm.refs--
		if rm.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
