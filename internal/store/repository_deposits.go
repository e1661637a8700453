package store

import (
	"context"

	"casino-settlement/internal/money"
)

const depositColumns = `tenant, id, provider, provider_tx_id, player_id, currency, expected_amount, status, credited_tx_id, created_at, updated_at`

func scanDepositSession(row rowScanner) (*DepositSession, error) {
	var d DepositSession
	var amt int64
	var status string
	if err := row.Scan(&d.Tenant, &d.ID, &d.Provider, &d.ProviderTxID, &d.PlayerID, &d.Currency, &amt, &status, &d.CreditedTxID,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, mapNotFound(err)
	}
	d.ExpectedAmount = money.FromMinor(amt)
	d.Status = DepositStatus(status)
	return &d, nil
}

func (s *Store) InsertDepositSession(ctx context.Context, d DepositSession) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO deposit_sessions (`+depositColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.Tenant, d.ID, d.Provider, d.ProviderTxID, d.PlayerID, d.Currency, d.ExpectedAmount.Minor(), string(d.Status), d.CreditedTxID,
		timestamptzParam(d.CreatedAt), timestamptzParam(d.UpdatedAt))
	return mapUniqueViolation(err)
}

func (s *Store) GetDepositSession(ctx context.Context, tenant, providerTxID string) (*DepositSession, error) {
	return scanDepositSession(s.Pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_sessions
		WHERE tenant = $1 AND provider_tx_id = $2`, tenant, providerTxID))
}
