package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
)

const robotColumns = `tenant, id, name, kind, rtp_bps, volatility, max_multiplier, active, parent_id, created_by, created_at`

func scanRobot(row rowScanner) (*Robot, error) {
	var r Robot
	var kind string
	var parentID pgtype.Text
	if err := row.Scan(&r.Tenant, &r.ID, &r.Name, &kind, &r.RTPBps, &r.Volatility, &r.MaxMultiplier, &r.Active, &parentID, &r.CreatedBy, &r.CreatedAt); err != nil {
		return nil, mapNotFound(err)
	}
	r.Kind = RobotKind(kind)
	r.ParentID = textVal(parentID)
	return &r, nil
}

func (s *Store) InsertRobot(ctx context.Context, r Robot) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO robots (`+robotColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.Tenant, r.ID, r.Name, string(r.Kind), r.RTPBps, r.Volatility, r.MaxMultiplier, r.Active, textParam(r.ParentID), r.CreatedBy,
		timestamptzParam(r.CreatedAt))
	return mapUniqueViolation(err)
}

func (s *Store) GetRobot(ctx context.Context, tenant, id string) (*Robot, error) {
	return scanRobot(s.Pool.QueryRow(ctx, `SELECT `+robotColumns+` FROM robots WHERE tenant = $1 AND id = $2`, tenant, id))
}

func (s *Store) SetRobotActive(ctx context.Context, tenant, id string, active bool) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE robots SET active = $3 WHERE tenant = $1 AND id = $2`, tenant, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const bindingInsertAttempts = 3

func (s *Store) InsertBinding(ctx context.Context, b RobotBinding) (RobotBinding, error) {
	var err error
	for i := 0; i < bindingInsertAttempts; i++ {
		err = s.Pool.QueryRow(ctx, `INSERT INTO robot_bindings (tenant, game_id, version, robot_id, bound_by, effective_from)
			SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5
			FROM robot_bindings WHERE tenant = $1 AND game_id = $2
			RETURNING version`,
			b.Tenant, b.GameID, b.RobotID, b.BoundBy, timestamptzParam(b.EffectiveFrom)).Scan(&b.Version)
		err = mapUniqueViolation(err)
		if !errors.Is(err, ErrDuplicate) {
			break
		}
	}
	return b, err
}

func scanBinding(row rowScanner) (*RobotBinding, error) {
	var b RobotBinding
	if err := row.Scan(&b.Tenant, &b.GameID, &b.Version, &b.RobotID, &b.BoundBy, &b.EffectiveFrom); err != nil {
		return nil, mapNotFound(err)
	}
	return &b, nil
}

func (s *Store) CurrentBinding(ctx context.Context, tenant, gameID string) (*RobotBinding, error) {
	return scanBinding(s.Pool.QueryRow(ctx, `SELECT tenant, game_id, version, robot_id, bound_by, effective_from
		FROM robot_bindings WHERE tenant = $1 AND game_id = $2
		ORDER BY version DESC LIMIT 1`, tenant, gameID))
}

func (s *Store) ListBindings(ctx context.Context, tenant, gameID string) ([]RobotBinding, error) {
	rows, err := s.Pool.Query(ctx, `SELECT tenant, game_id, version, robot_id, bound_by, effective_from
		FROM robot_bindings WHERE tenant = $1 AND game_id = $2
		ORDER BY version DESC`, tenant, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RobotBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
