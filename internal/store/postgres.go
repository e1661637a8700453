package store

import (
	"context"
	"fmt"
	"time"

	"casino-settlement/internal/money"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL Repository.
type Store struct {
	Pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

func New(dsn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) WithBalance(ctx context.Context, key BalanceKey, fn func(tx LedgerTx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO balances (tenant, player_id, currency) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
		key.Tenant, key.PlayerID, key.Currency); err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	bal, err := scanBalance(tx.QueryRow(ctx, `SELECT tenant, player_id, currency, available_real, available_bonus, held, updated_at
		FROM balances WHERE tenant = $1 AND player_id = $2 AND currency = $3 FOR UPDATE`,
		key.Tenant, key.PlayerID, key.Currency))
	if err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}

	if err := fn(&pgLedgerTx{tx: tx, balance: bal}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	bal, err := scanBalance(s.Pool.QueryRow(ctx, `SELECT tenant, player_id, currency, available_real, available_bonus, held, updated_at
		FROM balances WHERE tenant = $1 AND player_id = $2 AND currency = $3`,
		key.Tenant, key.PlayerID, key.Currency))
	if err == ErrNotFound {
		return Balance{BalanceKey: key}, nil
	}
	return bal, err
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	var availReal, availBonus, held int64
	if err := row.Scan(&b.Tenant, &b.PlayerID, &b.Currency, &availReal, &availBonus, &held, &b.UpdatedAt); err != nil {
		return Balance{}, mapNotFound(err)
	}
	b.AvailableReal = money.FromMinor(availReal)
	b.AvailableBonus = money.FromMinor(availBonus)
	b.Held = money.FromMinor(held)
	return b, nil
}

type pgLedgerTx struct {
	tx      pgx.Tx
	balance Balance
}

func (t *pgLedgerTx) Balance() Balance { return t.balance }

func (t *pgLedgerTx) SaveBalance(ctx context.Context, b Balance) error {
	if b.BalanceKey != t.balance.BalanceKey {
		return fmt.Errorf("save balance: key %v is not locked by this tx", b.BalanceKey)
	}
	_, err := t.tx.Exec(ctx, `UPDATE balances SET available_real = $1, available_bonus = $2, held = $3, updated_at = $4
		WHERE tenant = $5 AND player_id = $6 AND currency = $7`,
		b.AvailableReal.Minor(), b.AvailableBonus.Minor(), b.Held.Minor(), timestamptzParam(b.UpdatedAt),
		b.Tenant, b.PlayerID, b.Currency)
	if err != nil {
		return err
	}
	t.balance = b
	return nil
}

func (t *pgLedgerTx) AppendEntry(ctx context.Context, e JournalEntry) error {
	return insertEntry(ctx, t.tx, e)
}

func (t *pgLedgerTx) GetEntry(ctx context.Context, tenant, txID string) (*JournalEntry, error) {
	return getEntry(ctx, t.tx, tenant, txID)
}

func (t *pgLedgerTx) FindRollback(ctx context.Context, tenant, refTxID string) (*JournalEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
		WHERE tenant = $1 AND ref_tx_id = $2 AND kind = 'rollback'`, tenant, refTxID))
}

func (t *pgLedgerTx) GetRound(ctx context.Context, tenant, playerID, roundID string) (*Round, error) {
	return getRound(ctx, t.tx, tenant, playerID, roundID, true)
}

func (t *pgLedgerTx) InsertRound(ctx context.Context, r Round) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO rounds (tenant, player_id, round_id, game_id, currency, robot_id, binding_version, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.Tenant, r.PlayerID, r.RoundID, r.GameID, r.Currency, r.RobotID, r.BindingVersion, timestamptzParam(r.OpenedAt))
	return mapUniqueViolation(err)
}

func (t *pgLedgerTx) CloseRound(ctx context.Context, tenant, playerID, roundID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE rounds SET closed_at = $4 WHERE tenant = $1 AND player_id = $2 AND round_id = $3 AND closed_at IS NULL`,
		tenant, playerID, roundID, timestamptzParam(at))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (t *pgLedgerTx) GetWithdrawal(ctx context.Context, tenant, id string) (*Withdrawal, error) {
	return scanWithdrawal(t.tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE tenant = $1 AND id = $2 FOR UPDATE`, tenant, id))
}

func (t *pgLedgerTx) InsertWithdrawal(ctx context.Context, w Withdrawal) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO withdrawals (tenant, id, player_id, currency, amount, address, status, provider_ref, reason, requested_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		w.Tenant, w.ID, w.PlayerID, w.Currency, w.Amount.Minor(), w.Address, string(w.Status), w.ProviderRef, w.Reason, w.RequestedBy,
		timestamptzParam(w.CreatedAt), timestamptzParam(w.UpdatedAt))
	return mapUniqueViolation(err)
}

func (t *pgLedgerTx) UpdateWithdrawal(ctx context.Context, w Withdrawal, from WithdrawalStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE withdrawals SET status = $3, provider_ref = $4, reason = $5, updated_at = $6
		WHERE tenant = $1 AND id = $2 AND status = $7`,
		w.Tenant, w.ID, string(w.Status), w.ProviderRef, w.Reason, timestamptzParam(w.UpdatedAt), string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (t *pgLedgerTx) GetDepositSession(ctx context.Context, tenant, providerTxID string) (*DepositSession, error) {
	return scanDepositSession(t.tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_sessions
		WHERE tenant = $1 AND provider_tx_id = $2 FOR UPDATE`, tenant, providerTxID))
}

func (t *pgLedgerTx) UpdateDepositSession(ctx context.Context, s DepositSession, from DepositStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE deposit_sessions SET status = $3, credited_tx_id = $4, updated_at = $5
		WHERE tenant = $1 AND provider_tx_id = $2 AND status = $6`,
		s.Tenant, s.ProviderTxID, string(s.Status), s.CreditedTxID, timestamptzParam(s.UpdatedAt), string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}
