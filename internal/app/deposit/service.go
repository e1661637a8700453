// Package deposit turns payment-provider confirmations into exactly one
// credited journal entry per provider transaction.
package deposit

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
	"casino-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

type Service struct {
	ledger *ledger.Ledger
	guard  *idempotency.Guard
	store  store.DepositStore
	events events.Publisher
	now    func() time.Time
}

func NewService(l *ledger.Ledger, g *idempotency.Guard, st store.DepositStore, pub events.Publisher) *Service {
	return &Service{ledger: l, guard: g, store: st, events: pub, now: time.Now}
}

func depositTxID(providerTxID string) string {
	return "deposit:" + providerTxID
}

// CreateSession registers a pending checkout so its confirmation can be
// matched later.
func (s *Service) CreateSession(ctx context.Context, tenant, caller, key string, in SessionInput) (*SessionResult, error) {
	in.Provider = strings.TrimSpace(in.Provider)
	in.ProviderTxID = strings.TrimSpace(in.ProviderTxID)
	in.PlayerID = strings.TrimSpace(in.PlayerID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Provider == "" || in.ProviderTxID == "" || in.PlayerID == "" || in.Currency == "" {
		return nil, fmt.Errorf("%w: provider, provider_tx_id, player_id and currency are required", errs.ErrInvalidRequest)
	}
	if in.ExpectedAmount.IsNegative() || in.ExpectedAmount.IsZero() {
		return nil, fmt.Errorf("%w: expected_amount must be positive", errs.ErrInvalidRequest)
	}
	if key == "" {
		key = "session:" + in.ProviderTxID
	}
	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: key, Payload: in,
	}, func(ctx context.Context) (SessionResult, error) {
		now := s.now().UTC()
		sess := store.DepositSession{
			Tenant:         tenant,
			ID:             store.NewID("dep"),
			Provider:       in.Provider,
			ProviderTxID:   in.ProviderTxID,
			PlayerID:       in.PlayerID,
			Currency:       in.Currency,
			ExpectedAmount: in.ExpectedAmount,
			Status:         store.DepositPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.store.InsertDepositSession(ctx, sess); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return SessionResult{}, fmt.Errorf("provider_tx_id %s already has a session: %w", in.ProviderTxID, errs.ErrIdempotencyConflict)
			}
			return SessionResult{}, err
		}
		return SessionResult{Session: sess}, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("provider_tx_id", in.ProviderTxID).Msg("deposit session rejected")
		return nil, err
	}
	if !replayed {
		log.Info().Str("tenant", tenant).Str("player_id", in.PlayerID).Str("provider_tx_id", in.ProviderTxID).Str("session_id", res.Session.ID).Msg("deposit session created")
	}
	res.Replayed = replayed
	return &res, nil
}

// ConfirmDeposit credits a pending session once. A session that is already
// credited reports Duplicate with the original entry.
func (s *Service) ConfirmDeposit(ctx context.Context, tenant, caller string, in ConfirmInput) (*ConfirmResult, error) {
	in.PlayerID = strings.TrimSpace(in.PlayerID)
	in.ProviderTxID = strings.TrimSpace(in.ProviderTxID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.ProviderTxID == "" || in.Currency == "" {
		return nil, fmt.Errorf("%w: provider_tx_id and currency are required", errs.ErrInvalidRequest)
	}
	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: in.ProviderTxID, Payload: in,
	}, func(ctx context.Context) (ConfirmResult, error) {
		return s.confirm(ctx, tenant, caller, in)
	})
	if err != nil {
		metrics.RecordDeposit(StatusRejected)
		log.Warn().Err(err).Str("tenant", tenant).Str("provider_tx_id", in.ProviderTxID).Msg("deposit confirmation rejected")
		return nil, err
	}
	if replayed {
		res.Duplicate = true
	}
	if res.Duplicate {
		metrics.RecordDeposit(StatusDuplicate)
	} else {
		metrics.RecordDeposit(StatusCredited)
		events.Emit(ctx, s.events, events.TypeDepositCredited, tenant, res.Entry.PlayerID, res.Entry)
	}
	return &res, nil
}

func (s *Service) confirm(ctx context.Context, tenant, caller string, in ConfirmInput) (ConfirmResult, error) {
	sess, err := s.session(ctx, tenant, in.ProviderTxID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if in.PlayerID != "" && in.PlayerID != sess.PlayerID {
		return ConfirmResult{}, fmt.Errorf("provider_tx_id %s: %w", in.ProviderTxID, errs.ErrUnknownSession)
	}
	if in.Currency != sess.Currency {
		return ConfirmResult{}, fmt.Errorf("session is in %s: %w", sess.Currency, errs.ErrCurrencyMismatch)
	}

	key := store.BalanceKey{Tenant: tenant, PlayerID: sess.PlayerID, Currency: sess.Currency}
	var out ConfirmResult
	err = s.ledger.Within(ctx, key, func(u *ledger.Unit) error {
		locked, err := u.Tx().GetDepositSession(ctx, tenant, in.ProviderTxID)
		if err != nil {
			return err
		}
		switch locked.Status {
		case store.DepositFailed:
			return fmt.Errorf("session for %s failed: %w", in.ProviderTxID, errs.ErrUnknownSession)
		case store.DepositCredited:
			entry, err := u.Tx().GetEntry(ctx, tenant, locked.CreditedTxID)
			if err != nil {
				return err
			}
			out = ConfirmResult{Entry: *entry, Balance: ledger.ViewOf(u.Balance()), Duplicate: true}
			return nil
		}
		if in.Amount != locked.ExpectedAmount {
			return fmt.Errorf("confirmed %s, expected %s: %w", in.Amount, locked.ExpectedAmount, errs.ErrAmountMismatch)
		}
		entry, err := u.Apply(ctx, ledger.Credit(in.Amount), store.JournalEntry{
			TxID:   depositTxID(in.ProviderTxID),
			Kind:   store.KindDeposit,
			Amount: in.Amount,
			Actor:  caller,
		})
		if err != nil {
			return err
		}
		next := *locked
		next.Status = store.DepositCredited
		next.CreditedTxID = entry.TxID
		next.UpdatedAt = u.Now()
		if err := u.Tx().UpdateDepositSession(ctx, next, store.DepositPending); err != nil {
			return err
		}
		out = ConfirmResult{Entry: entry, Balance: ledger.ViewOf(u.Balance())}
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	if !out.Duplicate {
		log.Info().Str("tenant", tenant).Str("player_id", sess.PlayerID).Str("provider_tx_id", in.ProviderTxID).Str("amount", in.Amount.String()).Msg("deposit credited")
	}
	return out, nil
}

// fail marks a pending session failed.
func (s *Service) fail(ctx context.Context, tenant string, in Webhook) (*store.DepositSession, error) {
	sess, err := s.session(ctx, tenant, in.ProviderTxID)
	if err != nil {
		return nil, err
	}
	key := store.BalanceKey{Tenant: tenant, PlayerID: sess.PlayerID, Currency: sess.Currency}
	var out store.DepositSession
	err = s.ledger.Within(ctx, key, func(u *ledger.Unit) error {
		locked, err := u.Tx().GetDepositSession(ctx, tenant, in.ProviderTxID)
		if err != nil {
			return err
		}
		if locked.Status != store.DepositPending {
			return fmt.Errorf("session for %s is %s: %w", in.ProviderTxID, locked.Status, errs.ErrInvalidStateTransition)
		}
		out = *locked
		out.Status = store.DepositFailed
		out.UpdatedAt = u.Now()
		return u.Tx().UpdateDepositSession(ctx, out, store.DepositPending)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("tenant", tenant).Str("player_id", out.PlayerID).Str("provider_tx_id", in.ProviderTxID).Msg("deposit failed")
	return &out, nil
}

// HandleWebhook answers a provider delivery with credited, duplicate or
// rejected. Only infrastructure failures are returned as errors, so the
// provider retries those and nothing else.
func (s *Service) HandleWebhook(ctx context.Context, tenant, caller string, in Webhook) (*WebhookResult, error) {
	in.ProviderTxID = strings.TrimSpace(in.ProviderTxID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if in.ProviderTxID == "" {
		return nil, fmt.Errorf("%w: provider_tx_id is required", errs.ErrInvalidRequest)
	}
	if in.Status != WebhookSucceeded && in.Status != WebhookFailed {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrInvalidRequest, in.Status)
	}

	res, replayed, err := idempotency.Execute(ctx, s.guard, idempotency.Request{
		Tenant: tenant, Caller: caller, Key: "webhook:" + in.ProviderTxID + ":" + in.Status, Payload: in,
	}, func(ctx context.Context) (WebhookResult, error) {
		if in.Status == WebhookFailed {
			sess, err := s.fail(ctx, tenant, in)
			if err != nil {
				return WebhookResult{}, err
			}
			return WebhookResult{Status: StatusRejected, Reason: "provider_failed", Session: sess}, nil
		}
		out, err := s.confirm(ctx, tenant, caller, ConfirmInput{ProviderTxID: in.ProviderTxID, Amount: in.Amount, Currency: in.Currency})
		if err != nil {
			return WebhookResult{}, err
		}
		bal := out.Balance
		status := StatusCredited
		if out.Duplicate {
			status = StatusDuplicate
		}
		return WebhookResult{Status: status, TxID: out.Entry.TxID, Balance: &bal, entry: &out.Entry}, nil
	})
	switch {
	case err == nil && replayed && res.Status == StatusCredited:
		res.Status = StatusDuplicate
	case err != nil && errs.Terminal(err):
		log.Warn().Err(err).Str("tenant", tenant).Str("provider_tx_id", in.ProviderTxID).Str("code", errs.Code(err)).Msg("deposit webhook rejected")
		res = WebhookResult{Status: StatusRejected, Reason: errs.Code(err)}
	case err != nil:
		log.Error().Err(err).Str("tenant", tenant).Str("provider_tx_id", in.ProviderTxID).Msg("deposit webhook failed")
		return nil, err
	}
	metrics.RecordDeposit(res.Status)
	if err == nil && !replayed {
		switch {
		case res.Status == StatusCredited && res.entry != nil:
			events.Emit(ctx, s.events, events.TypeDepositCredited, tenant, res.entry.PlayerID, *res.entry)
		case res.Session != nil && res.Session.Status == store.DepositFailed:
			events.Emit(ctx, s.events, events.TypeDepositFailed, tenant, res.Session.PlayerID, *res.Session)
		}
	}
	return &res, nil
}

func (s *Service) session(ctx context.Context, tenant, providerTxID string) (*store.DepositSession, error) {
	sess, err := s.store.GetDepositSession(ctx, tenant, providerTxID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("provider_tx_id %s: %w", providerTxID, errs.ErrUnknownSession)
	}
	return sess, err
}

func (s *Service) GetSession(ctx context.Context, tenant, providerTxID string) (*store.DepositSession, error) {
	return s.session(ctx, tenant, providerTxID)
}
