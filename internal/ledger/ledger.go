// Package ledger is the single mutation point for player balances. Every
// delta is applied together with exactly one journal entry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/money"
	"casino-settlement/internal/store"
)

type Ledger struct {
	store store.BalanceStore
	now   func() time.Time
}

func New(st store.BalanceStore) *Ledger {
	return &Ledger{store: st, now: time.Now}
}

// SetClock replaces the time source used to stamp entries.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Unit is one atomic balance mutation scope, bound to a locked balance key.
type Unit struct {
	tx  store.LedgerTx
	key store.BalanceKey
	now time.Time
}

func (u *Unit) Balance() store.Balance { return u.tx.Balance() }

func (u *Unit) Tx() store.LedgerTx { return u.tx }

func (u *Unit) Now() time.Time { return u.now }

func (u *Unit) Key() store.BalanceKey { return u.key }

// Apply writes d to the locked balance and appends e with its post-mutation
// snapshot. A partition that would go negative fails the whole unit with
// ErrInsufficientFunds.
func (u *Unit) Apply(ctx context.Context, d store.Partitions, e store.JournalEntry) (store.JournalEntry, error) {
	if e.Amount.IsNegative() {
		return store.JournalEntry{}, fmt.Errorf("%w: negative amount", errs.ErrInvalidRequest)
	}
	if _, err := u.tx.GetEntry(ctx, u.key.Tenant, e.TxID); err == nil {
		return store.JournalEntry{}, fmt.Errorf("tx_id %s already journaled: %w", e.TxID, errs.ErrIdempotencyConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.JournalEntry{}, err
	}
	next := u.tx.Balance().Apply(d)
	if !next.Valid() {
		return store.JournalEntry{}, errs.ErrInsufficientFunds
	}
	if !next.Bounded() {
		return store.JournalEntry{}, fmt.Errorf("%w: balance would exceed %s", errs.ErrInvalidRequest, money.MaxAmount)
	}
	next.UpdatedAt = u.now
	if err := u.tx.SaveBalance(ctx, next); err != nil {
		return store.JournalEntry{}, err
	}

	e.Tenant = u.key.Tenant
	e.PlayerID = u.key.PlayerID
	e.Currency = u.key.Currency
	e.Deltas = d
	e.BalanceAfter = next.Partitions()
	e.CreatedAt = u.now
	if err := u.tx.AppendEntry(ctx, e); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			if e.Kind == store.KindRollback {
				return store.JournalEntry{}, fmt.Errorf("rollback of %s: %w", e.RefTxID, errs.ErrAlreadyRolledBack)
			}
			return store.JournalEntry{}, fmt.Errorf("tx_id %s: %w", e.TxID, errs.ErrIdempotencyConflict)
		}
		return store.JournalEntry{}, err
	}
	return e, nil
}

// Within runs fn inside one atomic unit for key. Nothing fn writes is kept
// unless it returns nil.
func (l *Ledger) Within(ctx context.Context, key store.BalanceKey, fn func(u *Unit) error) error {
	err := l.store.WithBalance(ctx, key, func(tx store.LedgerTx) error {
		return fn(&Unit{tx: tx, key: key, now: l.now().UTC().Truncate(time.Microsecond)})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrStale):
		// A concurrent writer on another key committed first.
		return fmt.Errorf("%w: %v", errs.ErrOperationInProgress, err)
	default:
		return err
	}
}

// ApplyDelta applies d and appends e as a single unit.
func (l *Ledger) ApplyDelta(ctx context.Context, key store.BalanceKey, d store.Partitions, e store.JournalEntry) (store.Balance, store.JournalEntry, error) {
	var bal store.Balance
	var out store.JournalEntry
	err := l.Within(ctx, key, func(u *Unit) error {
		var err error
		out, err = u.Apply(ctx, d, e)
		bal = u.Balance()
		return err
	})
	if err != nil {
		return store.Balance{}, store.JournalEntry{}, err
	}
	return bal, out, nil
}

func (l *Ledger) Balance(ctx context.Context, key store.BalanceKey) (store.Balance, error) {
	return l.store.GetBalance(ctx, key)
}

// DebitFunding splits a debit across real then bonus funds.
func DebitFunding(bal store.Balance, amount money.Amount) (store.Partitions, error) {
	if amount > bal.AvailableReal+bal.AvailableBonus {
		return store.Partitions{}, errs.ErrInsufficientFunds
	}
	fromReal := amount
	if fromReal > bal.AvailableReal {
		fromReal = bal.AvailableReal
	}
	return store.Partitions{Real: -fromReal, Bonus: -(amount - fromReal)}, nil
}

func Credit(amount money.Amount) store.Partitions {
	return store.Partitions{Real: amount}
}

func CreditBonus(amount money.Amount) store.Partitions {
	return store.Partitions{Bonus: amount}
}

func Hold(amount money.Amount) store.Partitions {
	return store.Partitions{Real: -amount, Held: amount}
}

func Release(amount money.Amount) store.Partitions {
	return store.Partitions{Real: amount, Held: -amount}
}

func Capture(amount money.Amount) store.Partitions {
	return store.Partitions{Held: -amount}
}
