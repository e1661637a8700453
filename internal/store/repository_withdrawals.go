package store

import (
	"context"

	"casino-settlement/internal/money"
)

const withdrawalColumns = `tenant, id, player_id, currency, amount, address, status, provider_ref, reason, requested_by, created_at, updated_at`

func scanWithdrawal(row rowScanner) (*Withdrawal, error) {
	var w Withdrawal
	var amt int64
	var status string
	if err := row.Scan(&w.Tenant, &w.ID, &w.PlayerID, &w.Currency, &amt, &w.Address, &status, &w.ProviderRef, &w.Reason, &w.RequestedBy,
		&w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, mapNotFound(err)
	}
	w.Amount = money.FromMinor(amt)
	w.Status = WithdrawalStatus(status)
	return &w, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, tenant, id string) (*Withdrawal, error) {
	return scanWithdrawal(s.Pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE tenant = $1 AND id = $2`, tenant, id))
}

func (s *Store) ListWithdrawals(ctx context.Context, tenant, playerID string, limit, offset int) ([]Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE tenant = $1 AND player_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, tenant, playerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Withdrawal, 0, limit)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
