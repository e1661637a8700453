package store

import (
	"context"
	"time"
)

func (s *Store) InsertIdempotency(ctx context.Context, rec IdempotencyRecord) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `INSERT INTO idempotency_records (tenant, caller, key, payload_hash, token, status, created_at, updated_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$8)
		ON CONFLICT (tenant, caller, key) DO NOTHING`,
		rec.Tenant, rec.Caller, rec.Key, rec.PayloadHash, rec.Token, string(rec.Status), timestamptzParam(rec.CreatedAt), timestamptzParam(rec.ExpiresAt))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetIdempotency(ctx context.Context, scope IdempotencyScope) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var status string
	err := s.Pool.QueryRow(ctx, `SELECT tenant, caller, key, payload_hash, token, status, response, error_code, created_at, updated_at, expires_at
		FROM idempotency_records WHERE tenant = $1 AND caller = $2 AND key = $3`,
		scope.Tenant, scope.Caller, scope.Key).Scan(&rec.Tenant, &rec.Caller, &rec.Key, &rec.PayloadHash, &rec.Token, &status, &rec.Response,
		&rec.ErrorCode, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	rec.Status = IdempotencyStatus(status)
	return &rec, nil
}

func (s *Store) CompleteIdempotency(ctx context.Context, scope IdempotencyScope, token string, status IdempotencyStatus, response []byte, errorCode string, now time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE idempotency_records SET status = $5, response = $6, error_code = $7, updated_at = $8
		WHERE tenant = $1 AND caller = $2 AND key = $3 AND token = $4 AND status = 'in_flight'`,
		scope.Tenant, scope.Caller, scope.Key, token, string(status), response, errorCode, timestamptzParam(now))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (s *Store) ReclaimIdempotency(ctx context.Context, rec IdempotencyRecord, staleBefore time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE idempotency_records
		SET payload_hash = $4, token = $8, status = 'in_flight', response = NULL, error_code = '', created_at = $5, updated_at = $5, expires_at = $6
		WHERE tenant = $1 AND caller = $2 AND key = $3
		  AND ((status = 'in_flight' AND updated_at < $7) OR expires_at <= $5)`,
		rec.Tenant, rec.Caller, rec.Key, rec.PayloadHash, timestamptzParam(rec.CreatedAt), timestamptzParam(rec.ExpiresAt),
		timestamptzParam(staleBefore), rec.Token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteIdempotency(ctx context.Context, scope IdempotencyScope, token string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM idempotency_records
		WHERE tenant = $1 AND caller = $2 AND key = $3 AND token = $4 AND status = 'in_flight'`,
		scope.Tenant, scope.Caller, scope.Key, token)
	return err
}

func (s *Store) PurgeIdempotency(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, timestamptzParam(before))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
