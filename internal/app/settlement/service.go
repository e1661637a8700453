// Package settlement applies game-provider bet, win and rollback calls to
// player balances.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/events"
	"casino-settlement/internal/idempotency"
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/metrics"
	"casino-settlement/internal/robots"
	"casino-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

type Service struct {
	ledger  *ledger.Ledger
	guard   *idempotency.Guard
	robots  *robots.Registry
	journal store.JournalStore
	events  events.Publisher
}

func NewService(l *ledger.Ledger, g *idempotency.Guard, r *robots.Registry, journal store.JournalStore, pub events.Publisher) *Service {
	return &Service{ledger: l, guard: g, robots: r, journal: journal, events: pub}
}

// Settle applies one bet, win or rollback. key deduplicates retries and
// defaults to the request's tx_id. A tx_id already in the journal is
// answered from its entry whatever key the retry carries, and is a conflict
// only when the payload differs.
func (s *Service) Settle(ctx context.Context, tenant, caller, key string, req Request) (*Result, error) {
	started := time.Now()
	req.normalize()
	if err := req.validate(); err != nil {
		metrics.RecordSettlement(string(req.Action), errs.Code(err), started)
		return nil, err
	}
	if key == "" {
		key = req.TxID
	}
	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: key, Payload: req,
	}, func(ctx context.Context) (Result, error) {
		return s.settle(ctx, tenant, caller, req)
	})
	replayed = replayed || res.Replayed
	metrics.RecordSettlement(string(req.Action), resultLabel(err, replayed), started)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("caller", caller).Str("player_id", req.PlayerID).
			Str("tx_id", req.TxID).Str("action", string(req.Action)).Str("code", errs.Code(err)).Msg("settlement rejected")
		return nil, err
	}
	res.Replayed = replayed
	if !replayed {
		events.Emit(ctx, s.events, events.TypeEntryAppended, tenant, req.PlayerID, res.Entry)
	}
	return &res, nil
}

func (s *Service) settle(ctx context.Context, tenant, caller string, req Request) (Result, error) {
	key := store.BalanceKey{Tenant: tenant, PlayerID: req.PlayerID, Currency: req.Currency}

	var resolution robots.Resolution
	if req.Action != ActionRollback {
		var err error
		if resolution, err = s.robots.ResolveRobot(ctx, tenant, req.GameID); err != nil {
			return Result{}, err
		}
	}

	var out Result
	err := s.ledger.Within(ctx, key, func(u *ledger.Unit) error {
		prior, err := u.Tx().GetEntry(ctx, tenant, req.TxID)
		if err == nil {
			out, err = s.journaled(ctx, u, req, prior)
			return err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		var (
			entry store.JournalEntry
			audit Audit
		)
		switch req.Action {
		case ActionRollback:
			entry, audit, err = s.rollback(ctx, u, caller, req)
		default:
			entry, audit, err = s.betOrWin(ctx, u, caller, req, resolution)
		}
		if err != nil {
			return err
		}
		out = Result{TxID: entry.TxID, Balance: ledger.ViewOf(u.Balance()), Audit: audit, Entry: entry}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if out.Replayed {
		log.Debug().Str("tenant", tenant).Str("player_id", req.PlayerID).Str("tx_id", req.TxID).Msg("settlement answered from journal")
		return out, nil
	}

	log.Info().Str("tenant", tenant).Str("player_id", req.PlayerID).Str("tx_id", req.TxID).
		Str("action", string(req.Action)).Str("round_id", out.Audit.RoundID).Str("robot_id", out.Audit.RobotID).
		Str("amount", out.Entry.Amount.String()).Msg("settlement applied")
	return out, nil
}

// journaled rebuilds the result of an already applied tx_id from its
// journal entry, including the balance snapshot taken at the time.
func (s *Service) journaled(ctx context.Context, u *ledger.Unit, req Request, prior *store.JournalEntry) (Result, error) {
	if !req.matches(*prior) {
		return Result{}, fmt.Errorf("tx_id %s already journaled with a different payload: %w", req.TxID, errs.ErrIdempotencyConflict)
	}
	audit := Audit{RobotID: prior.RobotID, RoundID: prior.RoundID}
	if prior.Kind != store.KindRollback {
		round, err := u.Tx().GetRound(ctx, u.Key().Tenant, prior.PlayerID, prior.RoundID)
		switch {
		case err == nil:
			audit.BindingVersion = round.BindingVersion
		case !errors.Is(err, store.ErrNotFound):
			return Result{}, err
		}
	}
	snapshot := store.Balance{
		BalanceKey:     u.Key(),
		AvailableReal:  prior.BalanceAfter.Real,
		AvailableBonus: prior.BalanceAfter.Bonus,
		Held:           prior.BalanceAfter.Held,
		UpdatedAt:      prior.CreatedAt,
	}
	return Result{TxID: prior.TxID, Balance: ledger.ViewOf(snapshot), Audit: audit, Entry: *prior, Replayed: true}, nil
}

// openRound returns the round's audit record, creating it with the current
// robot binding when this is the round's first entry.
func (s *Service) openRound(ctx context.Context, u *ledger.Unit, req Request, res robots.Resolution) (*store.Round, error) {
	tx := u.Tx()
	round, err := tx.GetRound(ctx, u.Key().Tenant, req.PlayerID, req.RoundID)
	if err == nil {
		if round.Currency != req.Currency {
			return nil, fmt.Errorf("round %s is in %s: %w", req.RoundID, round.Currency, errs.ErrCurrencyMismatch)
		}
		if round.GameID != req.GameID {
			return nil, fmt.Errorf("%w: round %s belongs to game %s", errs.ErrInvalidRequest, req.RoundID, round.GameID)
		}
		return round, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	robotID := req.RobotID
	if res.Bound {
		if !res.Active {
			return nil, fmt.Errorf("robot %s: %w", res.RobotID, errs.ErrRobotInactive)
		}
		robotID = res.RobotID
	}
	round = &store.Round{
		Tenant:         u.Key().Tenant,
		PlayerID:       req.PlayerID,
		RoundID:        req.RoundID,
		GameID:         req.GameID,
		Currency:       req.Currency,
		RobotID:        robotID,
		BindingVersion: res.Version,
		OpenedAt:       u.Now(),
	}
	if err := tx.InsertRound(ctx, *round); err != nil {
		return nil, err
	}
	return round, nil
}

func (s *Service) betOrWin(ctx context.Context, u *ledger.Unit, caller string, req Request, res robots.Resolution) (store.JournalEntry, Audit, error) {
	round, err := s.openRound(ctx, u, req, res)
	if err != nil {
		return store.JournalEntry{}, Audit{}, err
	}
	var d store.Partitions
	kind := store.KindWin
	if req.Action == ActionBet {
		kind = store.KindBet
		if d, err = ledger.DebitFunding(u.Balance(), req.Amount); err != nil {
			return store.JournalEntry{}, Audit{}, err
		}
	} else {
		d = ledger.Credit(req.Amount)
	}
	entry, err := u.Apply(ctx, d, store.JournalEntry{
		TxID:    req.TxID,
		Kind:    kind,
		Amount:  req.Amount,
		RoundID: round.RoundID,
		GameID:  round.GameID,
		RobotID: round.RobotID,
		Actor:   caller,
	})
	if err != nil {
		return store.JournalEntry{}, Audit{}, err
	}
	return entry, Audit{RobotID: round.RobotID, RoundID: round.RoundID, BindingVersion: round.BindingVersion}, nil
}

// rollback reverses exactly the partition deltas of the referenced bet or
// win. Rolling back a win debits the player.
func (s *Service) rollback(ctx context.Context, u *ledger.Unit, caller string, req Request) (store.JournalEntry, Audit, error) {
	tx := u.Tx()
	tenant := u.Key().Tenant
	ref, err := tx.GetEntry(ctx, tenant, req.RefTxID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && ref.PlayerID != req.PlayerID) {
		return store.JournalEntry{}, Audit{}, fmt.Errorf("ref_tx_id %s: %w", req.RefTxID, errs.ErrNotFound)
	}
	if err != nil {
		return store.JournalEntry{}, Audit{}, err
	}
	if ref.Kind != store.KindBet && ref.Kind != store.KindWin {
		return store.JournalEntry{}, Audit{}, fmt.Errorf("%w: %s entries cannot be rolled back", errs.ErrInvalidRequest, ref.Kind)
	}
	if ref.Currency != req.Currency {
		return store.JournalEntry{}, Audit{}, fmt.Errorf("ref_tx_id %s is in %s: %w", req.RefTxID, ref.Currency, errs.ErrCurrencyMismatch)
	}
	if req.RoundID != "" && req.RoundID != ref.RoundID {
		return store.JournalEntry{}, Audit{}, fmt.Errorf("%w: ref_tx_id %s belongs to round %s", errs.ErrInvalidRequest, req.RefTxID, ref.RoundID)
	}
	if !req.Amount.IsZero() && req.Amount != ref.Amount {
		return store.JournalEntry{}, Audit{}, fmt.Errorf("rollback of %s for %s, original %s: %w", req.RefTxID, req.Amount, ref.Amount, errs.ErrAmountMismatch)
	}
	if _, err := tx.FindRollback(ctx, tenant, req.RefTxID); err == nil {
		return store.JournalEntry{}, Audit{}, fmt.Errorf("rollback of %s: %w", req.RefTxID, errs.ErrAlreadyRolledBack)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.JournalEntry{}, Audit{}, err
	}

	entry, err := u.Apply(ctx, ref.Deltas.Neg(), store.JournalEntry{
		TxID:    req.TxID,
		Kind:    store.KindRollback,
		Amount:  ref.Amount,
		RoundID: ref.RoundID,
		GameID:  ref.GameID,
		RobotID: ref.RobotID,
		RefTxID: ref.TxID,
		RefKind: ref.Kind,
		Actor:   caller,
	})
	if err != nil {
		return store.JournalEntry{}, Audit{}, err
	}
	return entry, Audit{RobotID: ref.RobotID, RoundID: ref.RoundID}, nil
}

// CloseRound marks a round settled without moving money.
func (s *Service) CloseRound(ctx context.Context, tenant, caller, key string, req CloseRequest) (*CloseResult, error) {
	started := time.Now()
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	req.RoundID = strings.TrimSpace(req.RoundID)
	if req.PlayerID == "" || req.RoundID == "" {
		return nil, fmt.Errorf("%w: player_id and round_id are required", errs.ErrInvalidRequest)
	}
	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: key, Payload: req,
	}, func(ctx context.Context) (CloseResult, error) {
		round, err := s.journal.GetRound(ctx, tenant, req.PlayerID, req.RoundID)
		if errors.Is(err, store.ErrNotFound) {
			return CloseResult{}, fmt.Errorf("round %s: %w", req.RoundID, errs.ErrNotFound)
		}
		if err != nil {
			return CloseResult{}, err
		}
		var out CloseResult
		key := store.BalanceKey{Tenant: tenant, PlayerID: req.PlayerID, Currency: round.Currency}
		err = s.ledger.Within(ctx, key, func(u *ledger.Unit) error {
			current, err := u.Tx().GetRound(ctx, tenant, req.PlayerID, req.RoundID)
			if err != nil {
				return err
			}
			if current.ClosedAt != nil {
				return fmt.Errorf("round %s already closed: %w", req.RoundID, errs.ErrInvalidStateTransition)
			}
			if err := u.Tx().CloseRound(ctx, tenant, req.PlayerID, req.RoundID, u.Now()); err != nil {
				return err
			}
			out = CloseResult{RoundID: req.RoundID, ClosedAt: u.Now().Format(time.RFC3339Nano)}
			return nil
		})
		if err != nil {
			return CloseResult{}, err
		}
		log.Info().Str("tenant", tenant).Str("player_id", req.PlayerID).Str("round_id", req.RoundID).Msg("round closed")
		return out, nil
	})
	metrics.RecordSettlement("close", resultLabel(err, replayed), started)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("player_id", req.PlayerID).Str("round_id", req.RoundID).Msg("round close rejected")
		return nil, err
	}
	res.Replayed = replayed
	if !replayed {
		events.Emit(ctx, s.events, events.TypeRoundClosed, tenant, req.PlayerID, res)
	}
	return &res, nil
}

// Adjust credits real or bonus funds on an operator's behalf.
func (s *Service) Adjust(ctx context.Context, tenant, caller, key string, req AdjustRequest) (*AdjustResult, error) {
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.PlayerID == "" || req.Currency == "" {
		return nil, fmt.Errorf("%w: player_id and currency are required", errs.ErrInvalidRequest)
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", errs.ErrInvalidRequest)
	}
	var d store.Partitions
	switch req.Partition {
	case PartitionReal, "":
		d = ledger.Credit(req.Amount)
	case PartitionBonus:
		d = ledger.CreditBonus(req.Amount)
	default:
		return nil, fmt.Errorf("%w: unknown partition %q", errs.ErrInvalidRequest, req.Partition)
	}
	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: key, Payload: req,
	}, func(ctx context.Context) (AdjustResult, error) {
		bal, entry, err := s.ledger.ApplyDelta(ctx, store.BalanceKey{Tenant: tenant, PlayerID: req.PlayerID, Currency: req.Currency}, d, store.JournalEntry{
			TxID:   "adj:" + caller + ":" + key,
			Kind:   store.KindAdjustment,
			Amount: req.Amount,
			Actor:  caller,
		})
		if err != nil {
			return AdjustResult{}, err
		}
		log.Info().Str("tenant", tenant).Str("player_id", req.PlayerID).Str("actor", caller).
			Str("amount", req.Amount.String()).Str("reason", req.Reason).Msg("balance adjusted")
		return AdjustResult{TxID: entry.TxID, Balance: ledger.ViewOf(bal), Entry: entry}, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("player_id", req.PlayerID).Msg("adjustment rejected")
		return nil, err
	}
	res.Replayed = replayed
	if !replayed {
		events.Emit(ctx, s.events, events.TypeEntryAppended, tenant, req.PlayerID, res.Entry)
	}
	return &res, nil
}

func (s *Service) Balance(ctx context.Context, tenant, playerID, currency string) (ledger.View, error) {
	if playerID == "" || currency == "" {
		return ledger.View{}, fmt.Errorf("%w: player_id and currency are required", errs.ErrInvalidRequest)
	}
	bal, err := s.ledger.Balance(ctx, store.BalanceKey{Tenant: tenant, PlayerID: playerID, Currency: strings.ToUpper(currency)})
	if err != nil {
		return ledger.View{}, err
	}
	return ledger.ViewOf(bal), nil
}

// Journal lists entries newest first.
func (s *Service) Journal(ctx context.Context, f store.JournalFilter, limit, offset int) ([]store.JournalEntry, error) {
	return s.journal.ListEntries(ctx, f, limit, offset)
}

func resultLabel(err error, replayed bool) string {
	switch {
	case err != nil:
		return errs.Code(err)
	case replayed:
		return "replayed"
	default:
		return "ok"
	}
}
