package store

import (
	"context"

	"casino-settlement/internal/money"

	"github.com/jackc/pgx/v5/pgtype"
)

const entryColumns = `tenant, tx_id, player_id, currency, kind, amount, round_id, game_id, robot_id, ref_tx_id, ref_kind,
	delta_real, delta_bonus, delta_held, after_real, after_bonus, after_held, actor, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func insertEntry(ctx context.Context, q querier, e JournalEntry) error {
	_, err := q.Exec(ctx, `INSERT INTO journal_entries (`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.Tenant, e.TxID, e.PlayerID, e.Currency, string(e.Kind), e.Amount.Minor(),
		textParam(e.RoundID), textParam(e.GameID), textParam(e.RobotID), textParam(e.RefTxID), textParam(string(e.RefKind)),
		e.Deltas.Real.Minor(), e.Deltas.Bonus.Minor(), e.Deltas.Held.Minor(),
		e.BalanceAfter.Real.Minor(), e.BalanceAfter.Bonus.Minor(), e.BalanceAfter.Held.Minor(),
		e.Actor, timestamptzParam(e.CreatedAt))
	return mapUniqueViolation(err)
}

func scanEntry(row rowScanner) (*JournalEntry, error) {
	var (
		e                                 JournalEntry
		kind                              string
		amt                               int64
		roundID, gameID, robotID, refTxID pgtype.Text
		refKind                           pgtype.Text
		dReal, dBonus, dHeld              int64
		aReal, aBonus, aHeld              int64
	)
	if err := row.Scan(&e.Tenant, &e.TxID, &e.PlayerID, &e.Currency, &kind, &amt,
		&roundID, &gameID, &robotID, &refTxID, &refKind,
		&dReal, &dBonus, &dHeld, &aReal, &aBonus, &aHeld, &e.Actor, &e.CreatedAt); err != nil {
		return nil, mapNotFound(err)
	}
	e.Kind = EntryKind(kind)
	e.Amount = money.FromMinor(amt)
	e.RoundID = textVal(roundID)
	e.GameID = textVal(gameID)
	e.RobotID = textVal(robotID)
	e.RefTxID = textVal(refTxID)
	e.RefKind = EntryKind(textVal(refKind))
	e.Deltas = Partitions{Real: money.FromMinor(dReal), Bonus: money.FromMinor(dBonus), Held: money.FromMinor(dHeld)}
	e.BalanceAfter = Partitions{Real: money.FromMinor(aReal), Bonus: money.FromMinor(aBonus), Held: money.FromMinor(aHeld)}
	return &e, nil
}

func getEntry(ctx context.Context, q querier, tenant, txID string) (*JournalEntry, error) {
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant = $1 AND tx_id = $2`, tenant, txID))
}

func (s *Store) GetEntry(ctx context.Context, tenant, txID string) (*JournalEntry, error) {
	return getEntry(ctx, s.Pool, tenant, txID)
}

func (s *Store) ListEntries(ctx context.Context, f JournalFilter, limit, offset int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
		WHERE tenant = $1
		  AND ($2 = '' OR player_id = $2)
		  AND ($3 = '' OR round_id = $3)
		  AND ($4 = '' OR kind = $4)
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at < $6)
		ORDER BY created_at DESC, tx_id DESC
		LIMIT $7 OFFSET $8`,
		f.Tenant, f.PlayerID, f.RoundID, string(f.Kind), timeParam(f.From), timeParam(f.To), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *Store) ListRoundActivity(ctx context.Context, tenant, playerID string, after *RoundCursor, limit int) ([]RoundActivity, error) {
	if limit <= 0 {
		limit = 20
	}
	var afterTS pgtype.Timestamptz
	afterRound := ""
	if after != nil {
		afterTS = timestamptzParam(after.LastActivityAt)
		afterRound = after.RoundID
	}
	rows, err := s.Pool.Query(ctx, `SELECT round_id, max(created_at) AS last_activity_at
		FROM journal_entries
		WHERE tenant = $1 AND player_id = $2 AND round_id IS NOT NULL
		GROUP BY round_id
		HAVING $3::timestamptz IS NULL OR (max(created_at), round_id) < ($3::timestamptz, $4::text)
		ORDER BY last_activity_at DESC, round_id DESC
		LIMIT $5`,
		tenant, playerID, afterTS, afterRound, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]RoundActivity, 0, limit)
	for rows.Next() {
		var a RoundActivity
		if err := rows.Scan(&a.RoundID, &a.LastActivityAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListEntriesForRounds(ctx context.Context, tenant, playerID string, roundIDs []string) ([]JournalEntry, error) {
	if len(roundIDs) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
		WHERE tenant = $1 AND player_id = $2 AND round_id = ANY($3)
		ORDER BY created_at, tx_id`, tenant, playerID, roundIDs)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows interface {
	rowScanner
	Next() bool
	Err() error
	Close()
}) ([]JournalEntry, error) {
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

const roundColumns = `tenant, player_id, round_id, game_id, currency, robot_id, binding_version, opened_at, closed_at`

func scanRound(row rowScanner) (*Round, error) {
	var r Round
	var closedAt pgtype.Timestamptz
	if err := row.Scan(&r.Tenant, &r.PlayerID, &r.RoundID, &r.GameID, &r.Currency, &r.RobotID, &r.BindingVersion, &r.OpenedAt, &closedAt); err != nil {
		return nil, mapNotFound(err)
	}
	r.ClosedAt = timePtrVal(closedAt)
	return &r, nil
}

func getRound(ctx context.Context, q querier, tenant, playerID, roundID string, forUpdate bool) (*Round, error) {
	sql := `SELECT ` + roundColumns + ` FROM rounds WHERE tenant = $1 AND player_id = $2 AND round_id = $3`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanRound(q.QueryRow(ctx, sql, tenant, playerID, roundID))
}

func (s *Store) GetRound(ctx context.Context, tenant, playerID, roundID string) (*Round, error) {
	return getRound(ctx, s.Pool, tenant, playerID, roundID, false)
}

func (s *Store) ListRounds(ctx context.Context, tenant, playerID string, roundIDs []string) ([]Round, error) {
	if len(roundIDs) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+roundColumns+` FROM rounds
		WHERE tenant = $1 AND player_id = $2 AND round_id = ANY($3)`, tenant, playerID, roundIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
