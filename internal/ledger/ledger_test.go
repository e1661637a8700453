package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/money"
	"casino-settlement/internal/store"
	"casino-settlement/internal/store/memstore"
)

var key = store.BalanceKey{Tenant: "t1", PlayerID: "p1", Currency: "EUR"}

func seed(t *testing.T, l *Ledger, realMinor, bonusMinor int64) {
	t.Helper()
	_, _, err := l.ApplyDelta(context.Background(), key, store.Partitions{Real: money.FromMinor(realMinor), Bonus: money.FromMinor(bonusMinor)},
		store.JournalEntry{TxID: store.NewID("seed"), Kind: store.KindAdjustment, Amount: money.FromMinor(realMinor + bonusMinor), Actor: "admin"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestDebitFundingUsesRealBeforeBonus(t *testing.T) {
	bal := store.Balance{AvailableReal: 3000, AvailableBonus: 2000}
	tests := []struct {
		amount    int64
		wantReal  int64
		wantBonus int64
		wantErr   error
	}{
		{1000, -1000, 0, nil},
		{3000, -3000, 0, nil},
		{4500, -3000, -1500, nil},
		{5000, -3000, -2000, nil},
		{5001, 0, 0, errs.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		d, err := DebitFunding(bal, money.FromMinor(tt.amount))
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("DebitFunding(%d) error = %v, want %v", tt.amount, err, tt.wantErr)
		}
		if err == nil && (d.Real.Minor() != tt.wantReal || d.Bonus.Minor() != tt.wantBonus) {
			t.Fatalf("DebitFunding(%d) = %+v", tt.amount, d)
		}
	}
}

func TestApplyDeltaRecordsSnapshot(t *testing.T) {
	l := New(memstore.New())
	seed(t, l, 100000, 0)

	bal, entry, err := l.ApplyDelta(context.Background(), key, Hold(10000),
		store.JournalEntry{TxID: "wd-1:hold", Kind: store.KindWithdrawalHold, Amount: 10000, Actor: "p1"})
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if bal.AvailableReal != 90000 || bal.Held != 10000 {
		t.Fatalf("balance = %+v", bal)
	}
	if entry.BalanceAfter != bal.Partitions() {
		t.Fatalf("balance_after = %+v, want %+v", entry.BalanceAfter, bal.Partitions())
	}
	if entry.PlayerID != "p1" || entry.Currency != "EUR" || entry.CreatedAt.IsZero() {
		t.Fatalf("entry not stamped: %+v", entry)
	}
}

func TestApplyDeltaInsufficientFundsLeavesStateUntouched(t *testing.T) {
	st := memstore.New()
	l := New(st)
	seed(t, l, 5000, 0)

	_, _, err := l.ApplyDelta(context.Background(), key, Capture(100),
		store.JournalEntry{TxID: "cap", Kind: store.KindWithdrawalCapture, Amount: 100})
	if !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want insufficient_funds", err)
	}
	bal, _ := l.Balance(context.Background(), key)
	if bal.AvailableReal != 5000 || bal.Held != 0 {
		t.Fatalf("balance = %+v", bal)
	}
	if _, err := st.GetEntry(context.Background(), "t1", "cap"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unexpected journal entry, err = %v", err)
	}
}

func TestApplyDeltaDuplicateTxIDConflicts(t *testing.T) {
	l := New(memstore.New())
	e := store.JournalEntry{TxID: "dep-1", Kind: store.KindDeposit, Amount: 100}
	if _, _, err := l.ApplyDelta(context.Background(), key, Credit(100), e); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, _, err := l.ApplyDelta(context.Background(), key, Credit(100), e); !errors.Is(err, errs.ErrIdempotencyConflict) {
		t.Fatalf("second error = %v, want idempotency_conflict", err)
	}
	bal, _ := l.Balance(context.Background(), key)
	if bal.AvailableReal != 100 {
		t.Fatalf("balance = %v, want 100", bal.AvailableReal)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := New(memstore.New())
	seed(t, l, 500, 0)

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Within(context.Background(), key, func(u *Unit) error {
				d, err := DebitFunding(u.Balance(), 10)
				if err != nil {
					return err
				}
				_, err = u.Apply(context.Background(), d, store.JournalEntry{TxID: store.NewID("bet"), Kind: store.KindBet, Amount: 10})
				return err
			})
			if err == nil {
				ok.Add(1)
			} else if !errors.Is(err, errs.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 50 {
		t.Fatalf("successful debits = %d, want 50", ok.Load())
	}
	bal, _ := l.Balance(context.Background(), key)
	if bal.AvailableReal != 0 {
		t.Fatalf("balance = %v, want 0", bal.AvailableReal)
	}
}

func TestApplyDeltaRejectsBalanceAboveMax(t *testing.T) {
	l := New(memstore.New())
	ctx := context.Background()
	if _, _, err := l.ApplyDelta(ctx, key, Credit(money.MaxAmount), store.JournalEntry{TxID: "dep-1", Kind: store.KindDeposit, Amount: money.MaxAmount}); err != nil {
		t.Fatalf("credit to max: %v", err)
	}
	_, _, err := l.ApplyDelta(ctx, key, Credit(money.MaxAmount), store.JournalEntry{TxID: "dep-2", Kind: store.KindDeposit, Amount: money.MaxAmount})
	if !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("error = %v, want invalid_request", err)
	}
	bal, _ := l.Balance(ctx, key)
	if bal.AvailableReal != money.MaxAmount {
		t.Fatalf("balance = %v, want %v", bal.AvailableReal, money.MaxAmount)
	}
}
