package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/events"
	"casino-settlement/internal/idempotency"
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/money"
	"casino-settlement/internal/robots"
	"casino-settlement/internal/rounds"
	"casino-settlement/internal/store"
	"casino-settlement/internal/store/memstore"
)

const (
	tenant = "t1"
	caller = "provider-a"
)

type harness struct {
	svc      *Service
	st       *memstore.Store
	registry *robots.Registry
	events   *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	rec := &events.Recorder{}
	registry := robots.NewRegistry(st)
	guard := idempotency.NewGuard(idempotency.NewStoreBackend(st, 30*time.Second), time.Hour)
	return &harness{
		svc:      NewService(ledger.New(st), guard, registry, st, rec),
		st:       st,
		registry: registry,
		events:   rec,
	}
}

func amt(major int64) money.Amount { return money.FromMinor(major * 100) }

func (h *harness) seed(t *testing.T, player string, real, bonus int64) {
	t.Helper()
	ctx := context.Background()
	if real > 0 {
		if _, err := h.svc.Adjust(ctx, tenant, "ops", "seed-real-"+player, AdjustRequest{PlayerID: player, Currency: "EUR", Amount: amt(real)}); err != nil {
			t.Fatalf("seed real: %v", err)
		}
	}
	if bonus > 0 {
		if _, err := h.svc.Adjust(ctx, tenant, "ops", "seed-bonus-"+player, AdjustRequest{PlayerID: player, Currency: "EUR", Partition: PartitionBonus, Amount: amt(bonus)}); err != nil {
			t.Fatalf("seed bonus: %v", err)
		}
	}
}

func (h *harness) settle(req Request) (*Result, error) {
	if req.PlayerID == "" {
		req.PlayerID = "p1"
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}
	if req.GameID == "" && req.Action != ActionRollback {
		req.GameID = "slots"
	}
	return h.svc.Settle(context.Background(), tenant, caller, "", req)
}

func (h *harness) mustSettle(t *testing.T, req Request) *Result {
	t.Helper()
	res, err := h.settle(req)
	if err != nil {
		t.Fatalf("settle %s %s: %v", req.Action, req.TxID, err)
	}
	return res
}

func (h *harness) balance(t *testing.T, player string) ledger.View {
	t.Helper()
	v, err := h.svc.Balance(context.Background(), tenant, player, "EUR")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v
}

func TestBetWinRollbackScenario(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 1000, 0)

	steps := []struct {
		req  Request
		want int64
	}{
		{Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(100)}, 900},
		{Request{Action: ActionWin, RoundID: "R1", TxID: "win-1", Amount: amt(200)}, 1100},
		{Request{Action: ActionRollback, RoundID: "R1", TxID: "rb-1", RefTxID: "bet-1"}, 1200},
	}
	for _, step := range steps {
		res := h.mustSettle(t, step.req)
		if res.Balance.AvailableReal != amt(step.want) {
			t.Fatalf("%s: balance = %s, want %d", step.req.TxID, res.Balance.AvailableReal, step.want)
		}
		if res.Audit.RoundID != "R1" {
			t.Fatalf("%s: audit round = %q", step.req.TxID, res.Audit.RoundID)
		}
	}
	if got := h.balance(t, "p1").AvailableReal; got != amt(1200) {
		t.Fatalf("final balance = %s", got)
	}
	// seed, bet, win, rollback
	if n := len(h.events.OfType(events.TypeEntryAppended)); n != 4 {
		t.Fatalf("entry events = %d, want 4", n)
	}

	summary, err := rounds.NewAggregator(h.st).GetRound(context.Background(), tenant, "p1", "R1")
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if summary.TotalBet != 0 || summary.TotalWin != amt(200) || summary.Net != amt(200) {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestReplayAppliesOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 1000, 0)
	req := Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(100)}

	first := h.mustSettle(t, req)
	for i := 0; i < 4; i++ {
		res := h.mustSettle(t, req)
		if !res.Replayed {
			t.Fatalf("call %d not replayed", i)
		}
		if res.Balance.AvailableReal != first.Balance.AvailableReal || res.Entry.TxID != first.Entry.TxID {
			t.Fatalf("replay = %+v, first = %+v", res, first)
		}
	}
	if got := h.balance(t, "p1").AvailableReal; got != amt(900) {
		t.Fatalf("balance = %s, want 900", got)
	}
	entries, err := h.st.ListEntries(context.Background(), store.JournalFilter{Tenant: tenant, PlayerID: "p1", Kind: store.KindBet}, 10, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("bet entries = %d, want 1", len(entries))
	}
}

func TestConcurrentDuplicatesApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 1000, 0)
	req := Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(100)}

	var wg sync.WaitGroup
	errc := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.settle(req)
			errc <- err
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		if err != nil && !errors.Is(err, errs.ErrOperationInProgress) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := h.balance(t, "p1").AvailableReal; got != amt(900) {
		t.Fatalf("balance = %s, want 900", got)
	}
}

func TestSameTxIDDifferentPayloadConflicts(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 1000, 0)
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(100)})

	_, err := h.settle(Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(300)})
	if !errors.Is(err, errs.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want idempotency_conflict", err)
	}
	// A different idempotency key still cannot reuse a journaled tx_id.
	_, err = h.svc.Settle(context.Background(), tenant, caller, "other-key", Request{
		Action: ActionBet, PlayerID: "p1", GameID: "slots", RoundID: "R1", TxID: "bet-1", Amount: amt(300), Currency: "EUR",
	})
	if !errors.Is(err, errs.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want idempotency_conflict", err)
	}
	if got := h.balance(t, "p1").AvailableReal; got != amt(900) {
		t.Fatalf("balance = %s, want 900", got)
	}
}

func TestSameTxIDUnderNewKeyReplaysJournaledResult(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 1000, 0)
	ctx := context.Background()
	req := Request{Action: ActionBet, PlayerID: "p1", Currency: "EUR", GameID: "slots", RoundID: "R1", TxID: "bet-1", Amount: amt(100)}

	first, err := h.svc.Settle(ctx, tenant, caller, "attempt-1", req)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	second, err := h.svc.Settle(ctx, tenant, caller, "attempt-2", req)
	if err != nil {
		t.Fatalf("settle under new key: %v", err)
	}
	// Guard records gone: the journal still answers.
	if _, err := h.st.PurgeIdempotency(ctx, time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("purge: %v", err)
	}
	third, err := h.svc.Settle(ctx, tenant, caller, "attempt-1", req)
	if err != nil {
		t.Fatalf("settle after expiry: %v", err)
	}

	for i, res := range []*Result{second, third} {
		if !res.Replayed {
			t.Fatalf("retry %d not replayed", i)
		}
		if res.Balance.AvailableReal != first.Balance.AvailableReal || res.Entry.TxID != first.Entry.TxID || res.Audit.RoundID != "R1" {
			t.Fatalf("retry %d = %+v, first = %+v", i, res, first)
		}
	}
	if got := h.balance(t, "p1").AvailableReal; got != amt(900) {
		t.Fatalf("balance = %s, want 900", got)
	}
	entries, err := h.st.ListEntries(ctx, store.JournalFilter{Tenant: tenant, PlayerID: "p1", Kind: store.KindBet}, 10, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("bet entries = %d, want 1", len(entries))
	}
	// seed adjustment plus the bet
	if got := len(h.events.OfType(events.TypeEntryAppended)); got != 2 {
		t.Fatalf("entry events = %d, want 2", got)
	}
}

func TestRollbackRetryUnderNewKeyReplays(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 1000, 0)
	ctx := context.Background()
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(100)})
	rb := Request{Action: ActionRollback, PlayerID: "p1", Currency: "EUR", TxID: "rb-1", RefTxID: "bet-1"}

	if _, err := h.svc.Settle(ctx, tenant, caller, "rb-attempt-1", rb); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	res, err := h.svc.Settle(ctx, tenant, caller, "rb-attempt-2", rb)
	if err != nil {
		t.Fatalf("rollback under new key: %v", err)
	}
	if !res.Replayed || res.Balance.AvailableReal != amt(1000) {
		t.Fatalf("replayed rollback = %+v", res)
	}
	if got := h.balance(t, "p1").AvailableReal; got != amt(1000) {
		t.Fatalf("balance = %s, want 1000", got)
	}
}

func TestBetBeyondFundsRejected(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 50, 30)

	_, err := h.settle(Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(81)})
	if !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want insufficient_funds", err)
	}
	bal := h.balance(t, "p1")
	if bal.AvailableReal != amt(50) || bal.AvailableBonus != amt(30) {
		t.Fatalf("balance changed: %+v", bal)
	}
	// The rejection is stored; the same call replays it.
	if _, err := h.settle(Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(81)}); !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("replayed err = %v", err)
	}
}

func TestWinsBeyondMaxBalanceRejected(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 10, 0)
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(10)})
	h.mustSettle(t, Request{Action: ActionWin, RoundID: "R1", TxID: "win-1", Amount: money.MaxAmount})

	_, err := h.settle(Request{Action: ActionWin, RoundID: "R1", TxID: "win-2", Amount: money.MaxAmount})
	if !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("err = %v, want invalid_request", err)
	}
	if got := h.balance(t, "p1").AvailableReal; got != money.MaxAmount {
		t.Fatalf("balance = %s, want %s", got, money.MaxAmount)
	}
}

func TestBetSpendsRealThenBonusAndRollbackRestoresBoth(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 50, 30)

	res := h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(70)})
	if res.Balance.AvailableReal != 0 || res.Balance.AvailableBonus != amt(10) {
		t.Fatalf("after bet: %+v", res.Balance)
	}
	if res.Entry.Deltas.Real != -amt(50) || res.Entry.Deltas.Bonus != -amt(20) {
		t.Fatalf("deltas = %+v", res.Entry.Deltas)
	}
	res = h.mustSettle(t, Request{Action: ActionRollback, TxID: "rb-1", RefTxID: "bet-1"})
	if res.Balance.AvailableReal != amt(50) || res.Balance.AvailableBonus != amt(30) {
		t.Fatalf("after rollback: %+v", res.Balance)
	}
}

func TestRollbackRules(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 1000, 0)
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(100)})
	h.mustSettle(t, Request{Action: ActionWin, RoundID: "R1", TxID: "win-1", Amount: amt(300)})

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown ref", Request{Action: ActionRollback, TxID: "rb-x", RefTxID: "missing"}, errs.ErrNotFound},
		{"amount mismatch", Request{Action: ActionRollback, TxID: "rb-a", RefTxID: "bet-1", Amount: amt(99)}, errs.ErrAmountMismatch},
		{"wrong round", Request{Action: ActionRollback, TxID: "rb-r", RefTxID: "bet-1", RoundID: "R9"}, errs.ErrInvalidRequest},
		{"wrong currency", Request{Action: ActionRollback, TxID: "rb-c", RefTxID: "bet-1", Currency: "USD"}, errs.ErrCurrencyMismatch},
		{"rollback of adjustment", Request{Action: ActionRollback, TxID: "rb-s", RefTxID: "adj:ops:seed-real-p1"}, errs.ErrInvalidRequest},
		{"missing ref", Request{Action: ActionRollback, TxID: "rb-m"}, errs.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.settle(tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	res := h.mustSettle(t, Request{Action: ActionRollback, TxID: "rb-win", RefTxID: "win-1", Amount: amt(300)})
	if res.Balance.AvailableReal != amt(900) {
		t.Fatalf("win rollback balance = %s, want 900", res.Balance.AvailableReal)
	}
	_, err := h.settle(Request{Action: ActionRollback, TxID: "rb-win-2", RefTxID: "win-1"})
	if !errors.Is(err, errs.ErrAlreadyRolledBack) || !errors.Is(err, errs.ErrInvalidStateTransition) {
		t.Fatalf("second rollback err = %v", err)
	}
	if errs.Code(err) != "already_rolled_back" {
		t.Fatalf("code = %s", errs.Code(err))
	}
}

func TestRollbackOfSpentWinIsInsufficient(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 10, 0)
	h.mustSettle(t, Request{Action: ActionWin, RoundID: "R1", TxID: "win-1", Amount: amt(100)})
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R2", TxID: "bet-2", Amount: amt(105)})

	if _, err := h.settle(Request{Action: ActionRollback, TxID: "rb-1", RefTxID: "win-1"}); !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want insufficient_funds", err)
	}
}

func TestRoundCurrencyIsFrozen(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 100, 0)
	if _, err := h.svc.Adjust(context.Background(), tenant, "ops", "seed-usd", AdjustRequest{PlayerID: "p1", Currency: "USD", Amount: amt(100)}); err != nil {
		t.Fatalf("seed usd: %v", err)
	}
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(10)})
	_, err := h.settle(Request{Action: ActionWin, RoundID: "R1", TxID: "win-1", Amount: amt(10), Currency: "USD"})
	if !errors.Is(err, errs.ErrCurrencyMismatch) {
		t.Fatalf("err = %v, want currency_mismatch", err)
	}
}

func TestRebindMidRoundKeepsRobot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "p1", 1000, 0)
	a, err := h.registry.CreateRobot(ctx, tenant, "ops", robots.RobotInput{Name: "A", Kind: store.RobotFixedRTP, RTPBps: 9600, MaxMultiplier: 500, Active: true})
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	b, err := h.registry.CreateRobot(ctx, tenant, "ops", robots.RobotInput{Name: "B", Kind: store.RobotFixedRTP, RTPBps: 9400, MaxMultiplier: 500, Active: true})
	if err != nil {
		t.Fatalf("create B: %v", err)
	}
	if _, err := h.registry.BindRobot(ctx, tenant, "slots", a.ID, "ops"); err != nil {
		t.Fatalf("bind A: %v", err)
	}

	bet := h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(10)})
	if bet.Audit.RobotID != a.ID || bet.Audit.BindingVersion != 1 {
		t.Fatalf("bet audit = %+v", bet.Audit)
	}
	if _, err := h.registry.BindRobot(ctx, tenant, "slots", b.ID, "ops"); err != nil {
		t.Fatalf("bind B: %v", err)
	}
	win := h.mustSettle(t, Request{Action: ActionWin, RoundID: "R1", TxID: "win-1", Amount: amt(20)})
	if win.Audit.RobotID != a.ID || win.Entry.RobotID != a.ID {
		t.Fatalf("win after rebind stamped %s, want %s", win.Entry.RobotID, a.ID)
	}
	next := h.mustSettle(t, Request{Action: ActionBet, RoundID: "R2", TxID: "bet-2", Amount: amt(10)})
	if next.Audit.RobotID != b.ID || next.Audit.BindingVersion != 2 {
		t.Fatalf("new round audit = %+v", next.Audit)
	}
}

func TestInactiveRobotBlocksOnlyNewRounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "p1", 1000, 0)
	r, err := h.registry.CreateRobot(ctx, tenant, "ops", robots.RobotInput{Name: "A", Kind: store.RobotFixedRTP, RTPBps: 9600, MaxMultiplier: 500, Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.registry.BindRobot(ctx, tenant, "slots", r.ID, "ops"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(10)})
	if _, err := h.registry.SetActive(ctx, tenant, r.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	h.mustSettle(t, Request{Action: ActionWin, RoundID: "R1", TxID: "win-1", Amount: amt(5)})
	if _, err := h.settle(Request{Action: ActionBet, RoundID: "R2", TxID: "bet-2", Amount: amt(10)}); !errors.Is(err, errs.ErrRobotInactive) {
		t.Fatalf("err = %v, want robot_inactive", err)
	}
}

func TestUnboundGameUsesReportedRobot(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "p1", 100, 0)
	res := h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(10), RobotID: "provider-robot-7"})
	if res.Audit.RobotID != "provider-robot-7" {
		t.Fatalf("robot = %q", res.Audit.RobotID)
	}
}

func TestValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		req  Request
	}{
		{"unknown action", Request{Action: "refund", RoundID: "R1", TxID: "x1", Amount: amt(1)}},
		{"missing tx", Request{Action: ActionBet, RoundID: "R1", Amount: amt(1)}},
		{"missing round", Request{Action: ActionBet, TxID: "x2", Amount: amt(1)}},
		{"negative amount", Request{Action: ActionWin, RoundID: "R1", TxID: "x3", Amount: -amt(1)}},
		{"zero bet", Request{Action: ActionBet, RoundID: "R1", TxID: "x4"}},
		{"ref on bet", Request{Action: ActionBet, RoundID: "R1", TxID: "x5", RefTxID: "y", Amount: amt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.settle(tt.req); !errors.Is(err, errs.ErrInvalidRequest) {
				t.Fatalf("err = %v, want invalid_request", err)
			}
		})
	}
}

func TestCloseRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "p1", 100, 0)
	h.mustSettle(t, Request{Action: ActionBet, RoundID: "R1", TxID: "bet-1", Amount: amt(10)})

	if _, err := h.svc.CloseRound(ctx, tenant, caller, "close-1", CloseRequest{PlayerID: "p1", RoundID: "R1"}); err != nil {
		t.Fatalf("close: %v", err)
	}
	again, err := h.svc.CloseRound(ctx, tenant, caller, "close-1", CloseRequest{PlayerID: "p1", RoundID: "R1"})
	if err != nil || !again.Replayed {
		t.Fatalf("replayed close = %+v, %v", again, err)
	}
	if _, err := h.svc.CloseRound(ctx, tenant, caller, "close-2", CloseRequest{PlayerID: "p1", RoundID: "R1"}); !errors.Is(err, errs.ErrInvalidStateTransition) {
		t.Fatalf("second close err = %v", err)
	}
	if _, err := h.svc.CloseRound(ctx, tenant, caller, "close-3", CloseRequest{PlayerID: "p1", RoundID: "R9"}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown round err = %v", err)
	}

	summary, err := rounds.NewAggregator(h.st).GetRound(ctx, tenant, "p1", "R1")
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if summary.Status != rounds.StatusSettled {
		t.Fatalf("status = %s", summary.Status)
	}
}

func TestAdjustRequiresPositiveAmount(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Adjust(context.Background(), tenant, "ops", "adj-0", AdjustRequest{PlayerID: "p1", Currency: "EUR"})
	if !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
	_, err = h.svc.Adjust(context.Background(), tenant, "ops", "adj-1", AdjustRequest{PlayerID: "p1", Currency: "EUR", Amount: amt(1), Partition: "held"})
	if !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
}
