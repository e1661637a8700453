package memstore

import (
	"context"
	"fmt"
	"time"

	"casino-settlement/internal/store"
)

type stagedWithdrawal struct {
	w      store.Withdrawal
	from   store.WithdrawalStatus
	insert bool
}

type stagedDeposit struct {
	d    store.DepositSession
	from store.DepositStatus
}

type memTx struct {
	s           *Store
	balance     store.Balance
	dirty       bool
	entries     []store.JournalEntry
	rounds      map[roundKey]store.Round
	closes      map[roundKey]time.Time
	withdrawals map[idKey]stagedWithdrawal
	deposits    map[idKey]stagedDeposit
}

func newMemTx(s *Store, bal store.Balance) *memTx {
	return &memTx{
		s:           s,
		balance:     bal,
		rounds:      map[roundKey]store.Round{},
		closes:      map[roundKey]time.Time{},
		withdrawals: map[idKey]stagedWithdrawal{},
		deposits:    map[idKey]stagedDeposit{},
	}
}

func (t *memTx) Balance() store.Balance { return t.balance }

func (t *memTx) SaveBalance(_ context.Context, b store.Balance) error {
	if b.BalanceKey != t.balance.BalanceKey {
		return fmt.Errorf("save balance: key %v is not locked by this tx", b.BalanceKey)
	}
	t.balance = b
	t.dirty = true
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e store.JournalEntry) error {
	t.s.mu.RLock()
	err := t.s.checkEntry(e)
	t.s.mu.RUnlock()
	if err != nil {
		return err
	}
	for _, staged := range t.entries {
		if staged.TxID == e.TxID || (e.Kind == store.KindRollback && staged.Kind == store.KindRollback && staged.RefTxID == e.RefTxID) {
			return store.ErrDuplicate
		}
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) GetEntry(_ context.Context, tenant, txID string) (*store.JournalEntry, error) {
	for i := range t.entries {
		if t.entries[i].Tenant == tenant && t.entries[i].TxID == txID {
			e := t.entries[i]
			return &e, nil
		}
	}
	return t.s.getEntry(tenant, txID)
}

func (t *memTx) FindRollback(_ context.Context, tenant, refTxID string) (*store.JournalEntry, error) {
	for i := range t.entries {
		e := t.entries[i]
		if e.Tenant == tenant && e.Kind == store.KindRollback && e.RefTxID == refTxID {
			return &e, nil
		}
	}
	t.s.mu.RLock()
	txID, ok := t.s.rollbacks[entryKey{tenant, refTxID}]
	t.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.s.getEntry(tenant, txID)
}

func (t *memTx) GetRound(_ context.Context, tenant, playerID, roundID string) (*store.Round, error) {
	k := roundKey{tenant, playerID, roundID}
	r, ok := t.rounds[k]
	if !ok {
		t.s.mu.RLock()
		r, ok = t.s.rounds[k]
		t.s.mu.RUnlock()
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	if at, closed := t.closes[k]; closed {
		r.ClosedAt = &at
	}
	return &r, nil
}

func (t *memTx) InsertRound(_ context.Context, r store.Round) error {
	k := roundKey{r.Tenant, r.PlayerID, r.RoundID}
	if _, ok := t.rounds[k]; ok {
		return store.ErrDuplicate
	}
	t.s.mu.RLock()
	_, exists := t.s.rounds[k]
	t.s.mu.RUnlock()
	if exists {
		return store.ErrDuplicate
	}
	t.rounds[k] = r
	return nil
}

func (t *memTx) CloseRound(ctx context.Context, tenant, playerID, roundID string, at time.Time) error {
	r, err := t.GetRound(ctx, tenant, playerID, roundID)
	if err != nil {
		return err
	}
	if r.ClosedAt != nil {
		return store.ErrStale
	}
	t.closes[roundKey{tenant, playerID, roundID}] = at
	return nil
}

func (t *memTx) GetWithdrawal(_ context.Context, tenant, id string) (*store.Withdrawal, error) {
	if sw, ok := t.withdrawals[idKey{tenant, id}]; ok {
		w := sw.w
		return &w, nil
	}
	return t.s.GetWithdrawal(context.Background(), tenant, id)
}

func (t *memTx) InsertWithdrawal(_ context.Context, w store.Withdrawal) error {
	k := idKey{w.Tenant, w.ID}
	t.s.mu.RLock()
	_, exists := t.s.withdrawals[k]
	t.s.mu.RUnlock()
	if _, staged := t.withdrawals[k]; exists || staged {
		return store.ErrDuplicate
	}
	t.withdrawals[k] = stagedWithdrawal{w: w, insert: true}
	return nil
}

func (t *memTx) UpdateWithdrawal(ctx context.Context, w store.Withdrawal, from store.WithdrawalStatus) error {
	cur, err := t.GetWithdrawal(ctx, w.Tenant, w.ID)
	if err != nil {
		return err
	}
	if cur.Status != from {
		return store.ErrStale
	}
	k := idKey{w.Tenant, w.ID}
	prev, staged := t.withdrawals[k]
	if staged && prev.insert {
		t.withdrawals[k] = stagedWithdrawal{w: w, insert: true}
		return nil
	}
	if staged {
		from = prev.from
	}
	t.withdrawals[k] = stagedWithdrawal{w: w, from: from}
	return nil
}

func (t *memTx) GetDepositSession(_ context.Context, tenant, providerTxID string) (*store.DepositSession, error) {
	if sd, ok := t.deposits[idKey{tenant, providerTxID}]; ok {
		d := sd.d
		return &d, nil
	}
	return t.s.GetDepositSession(context.Background(), tenant, providerTxID)
}

func (t *memTx) UpdateDepositSession(ctx context.Context, d store.DepositSession, from store.DepositStatus) error {
	cur, err := t.GetDepositSession(ctx, d.Tenant, d.ProviderTxID)
	if err != nil {
		return err
	}
	if cur.Status != from {
		return store.ErrStale
	}
	k := idKey{d.Tenant, d.ProviderTxID}
	if prev, ok := t.deposits[k]; ok {
		from = prev.from
	}
	t.deposits[k] = stagedDeposit{d: d, from: from}
	return nil
}

// validate re-checks every staged write against committed state. Callers hold
// s.mu for writing.
func (t *memTx) validate() error {
	for _, e := range t.entries {
		if err := t.s.checkEntry(e); err != nil {
			return err
		}
	}
	for k := range t.rounds {
		if _, exists := t.s.rounds[k]; exists {
			return store.ErrDuplicate
		}
	}
	for k := range t.closes {
		r, ok := t.s.rounds[k]
		if _, staged := t.rounds[k]; !ok && !staged {
			return store.ErrNotFound
		}
		if ok && r.ClosedAt != nil {
			return store.ErrStale
		}
	}
	for k, sw := range t.withdrawals {
		cur, exists := t.s.withdrawals[k]
		if sw.insert && exists {
			return store.ErrDuplicate
		}
		if !sw.insert && (!exists || cur.Status != sw.from) {
			return store.ErrStale
		}
	}
	for k, sd := range t.deposits {
		cur, exists := t.s.deposits[k]
		if !exists || cur.Status != sd.from {
			return store.ErrStale
		}
	}
	return nil
}

// apply publishes staged writes. Callers hold s.mu for writing.
func (t *memTx) apply() {
	if t.dirty {
		t.s.balances[t.balance.BalanceKey] = t.balance
	}
	for _, e := range t.entries {
		t.s.appendEntry(e)
	}
	for k, r := range t.rounds {
		t.s.rounds[k] = r
	}
	for k, at := range t.closes {
		r := t.s.rounds[k]
		closedAt := at
		r.ClosedAt = &closedAt
		t.s.rounds[k] = r
	}
	for k, sw := range t.withdrawals {
		t.s.withdrawals[k] = sw.w
	}
	for k, sd := range t.deposits {
		t.s.deposits[k] = sd.d
	}
}
