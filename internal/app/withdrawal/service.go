// Package withdrawal moves funds into the held partition while a payout is
// pending and releases or captures them when it resolves.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/events"
	"casino-settlement/internal/idempotency"
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/metrics"
	"casino-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

type Service struct {
	ledger *ledger.Ledger
	guard  *idempotency.Guard
	store  store.WithdrawalStore
	events events.Publisher
}

func NewService(l *ledger.Ledger, g *idempotency.Guard, st store.WithdrawalStore, pub events.Publisher) *Service {
	return &Service{ledger: l, guard: g, store: st, events: pub}
}

// entryTxID names the journal entries of one withdrawal so a lifecycle step
// can never be journaled twice.
func entryTxID(id string, kind store.EntryKind) string {
	switch kind {
	case store.KindWithdrawalHold:
		return "wd:" + id + ":hold"
	case store.KindWithdrawalRelease:
		return "wd:" + id + ":release"
	default:
		return "wd:" + id + ":capture"
	}
}

// Request holds amount from the player's available real funds.
func (s *Service) Request(ctx context.Context, tenant, caller, key string, in RequestInput) (*Result, error) {
	in.PlayerID = strings.TrimSpace(in.PlayerID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Address = strings.TrimSpace(in.Address)
	if in.PlayerID == "" || in.Currency == "" || in.Address == "" {
		return nil, fmt.Errorf("%w: player_id, currency and address are required", errs.ErrInvalidRequest)
	}
	if in.Amount.IsNegative() || in.Amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", errs.ErrInvalidRequest)
	}

	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: key, Payload: in,
	}, func(ctx context.Context) (Result, error) {
		key := store.BalanceKey{Tenant: tenant, PlayerID: in.PlayerID, Currency: in.Currency}
		var out Result
		err := s.ledger.Within(ctx, key, func(u *ledger.Unit) error {
			w := store.Withdrawal{
				Tenant:      tenant,
				ID:          store.NewID("wd"),
				PlayerID:    in.PlayerID,
				Currency:    in.Currency,
				Amount:      in.Amount,
				Address:     in.Address,
				Status:      store.WithdrawalRequested,
				RequestedBy: caller,
				CreatedAt:   u.Now(),
				UpdatedAt:   u.Now(),
			}
			if _, err := u.Apply(ctx, ledger.Hold(in.Amount), store.JournalEntry{
				TxID:   entryTxID(w.ID, store.KindWithdrawalHold),
				Kind:   store.KindWithdrawalHold,
				Amount: in.Amount,
				Actor:  caller,
			}); err != nil {
				return err
			}
			if err := u.Tx().InsertWithdrawal(ctx, w); err != nil {
				return err
			}
			out = Result{Withdrawal: w, Balance: ledger.ViewOf(u.Balance())}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		return out, nil
	})
	metrics.RecordWithdrawalTransition(string(store.WithdrawalRequested), resultLabel(err))
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("player_id", in.PlayerID).Str("amount", in.Amount.String()).Msg("withdrawal request rejected")
		return nil, err
	}
	if !replayed {
		log.Info().Str("tenant", tenant).Str("player_id", in.PlayerID).Str("withdrawal_id", res.Withdrawal.ID).Str("amount", in.Amount.String()).Msg("withdrawal requested")
		events.Emit(ctx, s.events, events.TypeWithdrawalChanged, tenant, in.PlayerID, res.Withdrawal)
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *Service) Approve(ctx context.Context, tenant, caller, key, id string) (*Result, error) {
	return s.transition(ctx, tenant, caller, key, id, actionApprove, patch{})
}

func (s *Service) InitiatePayout(ctx context.Context, tenant, caller, key, id string) (*Result, error) {
	return s.transition(ctx, tenant, caller, key, id, actionPayout, patch{})
}

// Reject releases the held amount back to available real funds.
func (s *Service) Reject(ctx context.Context, tenant, caller, key, id string, in RejectInput) (*Result, error) {
	return s.transition(ctx, tenant, caller, key, id, actionReject, patch{Reason: strings.TrimSpace(in.Reason)})
}

// MarkPaid captures the held amount; the funds have left the system.
func (s *Service) MarkPaid(ctx context.Context, tenant, caller, key, id string, in PaidInput) (*Result, error) {
	ref := strings.TrimSpace(in.ProviderRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: provider_ref is required", errs.ErrInvalidRequest)
	}
	return s.transition(ctx, tenant, caller, key, id, actionPaid, patch{ProviderRef: ref})
}

func (s *Service) transition(ctx context.Context, tenant, caller, key, id string, act action, p patch) (*Result, error) {
	t := transitions[act]
	payload := struct {
		Action action `json:"action"`
		ID     string `json:"withdrawal_id"`
		Patch  patch  `json:"patch"`
	}{Action: act, ID: id, Patch: p}

	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: key, Payload: payload,
	}, func(ctx context.Context) (Result, error) {
		current, err := s.Get(ctx, tenant, id)
		if err != nil {
			return Result{}, err
		}
		bkey := store.BalanceKey{Tenant: tenant, PlayerID: current.PlayerID, Currency: current.Currency}
		var out Result
		err = s.ledger.Within(ctx, bkey, func(u *ledger.Unit) error {
			w, err := u.Tx().GetWithdrawal(ctx, tenant, id)
			if err != nil {
				return err
			}
			if !t.allows(w.Status) {
				return fmt.Errorf("withdrawal %s is %s, cannot %s: %w", id, w.Status, act, errs.ErrInvalidStateTransition)
			}
			if t.delta != nil {
				if _, err := u.Apply(ctx, t.delta(w.Amount), store.JournalEntry{
					TxID:   entryTxID(w.ID, t.kind),
					Kind:   t.kind,
					Amount: w.Amount,
					Actor:  caller,
				}); err != nil {
					return err
				}
			}
			from := w.Status
			next := *w
			next.Status = t.to
			next.UpdatedAt = u.Now()
			if p.Reason != "" {
				next.Reason = p.Reason
			}
			if p.ProviderRef != "" {
				next.ProviderRef = p.ProviderRef
			}
			if err := u.Tx().UpdateWithdrawal(ctx, next, from); err != nil {
				return err
			}
			out = Result{Withdrawal: next, Balance: ledger.ViewOf(u.Balance())}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		return out, nil
	})
	metrics.RecordWithdrawalTransition(string(t.to), resultLabel(err))
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("withdrawal_id", id).Str("action", string(act)).Msg("withdrawal transition rejected")
		return nil, err
	}
	if !replayed {
		log.Info().Str("tenant", tenant).Str("withdrawal_id", id).Str("status", string(res.Withdrawal.Status)).Str("actor", caller).Msg("withdrawal transitioned")
		events.Emit(ctx, s.events, events.TypeWithdrawalChanged, tenant, res.Withdrawal.PlayerID, res.Withdrawal)
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *Service) Get(ctx context.Context, tenant, id string) (*store.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("withdrawal %s: %w", id, errs.ErrNotFound)
	}
	return w, err
}

func (s *Service) List(ctx context.Context, tenant, playerID string, limit, offset int) ([]store.Withdrawal, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: player_id is required", errs.ErrInvalidRequest)
	}
	return s.store.ListWithdrawals(ctx, tenant, playerID, limit, offset)
}

func resultLabel(err error) string {
	if err != nil {
		return errs.Code(err)
	}
	return "ok"
}
