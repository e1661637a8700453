// Package robots binds games to payout profiles ("robots"). Bindings are
// versioned; a round freezes the binding it started under.
package robots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/events"
	"casino-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

type Registry struct {
	store  store.RobotStore
	events events.Publisher
	now    func() time.Time
}

func NewRegistry(st store.RobotStore) *Registry {
	return &Registry{store: st, now: time.Now}
}

// SetPublisher makes the registry announce binding changes.
func (r *Registry) SetPublisher(p events.Publisher) {
	r.events = p
}

type RobotInput struct {
	Name          string          `json:"name"`
	Kind          store.RobotKind `json:"kind"`
	RTPBps        int             `json:"rtp_bps"`
	Volatility    string          `json:"volatility"`
	MaxMultiplier int             `json:"max_multiplier"`
	Active        bool            `json:"active"`
}

func (in RobotInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", errs.ErrInvalidRequest)
	}
	if in.RTPBps <= 0 || in.RTPBps > 10000 {
		return fmt.Errorf("%w: rtp_bps must be in (0, 10000]", errs.ErrInvalidRequest)
	}
	if in.MaxMultiplier <= 0 {
		return fmt.Errorf("%w: max_multiplier must be positive", errs.ErrInvalidRequest)
	}
	switch in.Kind {
	case store.RobotFixedRTP:
	case store.RobotVolatilityBand:
		switch in.Volatility {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("%w: volatility must be low, medium or high", errs.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown robot kind %q", errs.ErrInvalidRequest, in.Kind)
	}
	return nil
}

// Resolution is the binding a new round would start under. Bound is false
// when the game has no binding.
type Resolution struct {
	RobotID string `json:"robot_id"`
	Version int64  `json:"version"`
	Active  bool   `json:"active"`
	Bound   bool   `json:"bound"`
}

func (r *Registry) CreateRobot(ctx context.Context, tenant, actor string, in RobotInput) (*store.Robot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	robot := store.Robot{
		Tenant:        tenant,
		ID:            store.NewID("rbt"),
		Name:          in.Name,
		Kind:          in.Kind,
		RTPBps:        in.RTPBps,
		Volatility:    in.Volatility,
		MaxMultiplier: in.MaxMultiplier,
		Active:        in.Active,
		CreatedBy:     actor,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.store.InsertRobot(ctx, robot); err != nil {
		return nil, err
	}
	log.Info().Str("tenant", tenant).Str("robot_id", robot.ID).Str("actor", actor).Msg("robot created")
	return &robot, nil
}

func (r *Registry) GetRobot(ctx context.Context, tenant, robotID string) (*store.Robot, error) {
	robot, err := r.store.GetRobot(ctx, tenant, robotID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("robot %s: %w", robotID, errs.ErrNotFound)
	}
	return robot, err
}

// ResolveRobot returns the robot currently bound to gameID.
func (r *Registry) ResolveRobot(ctx context.Context, tenant, gameID string) (Resolution, error) {
	b, err := r.store.CurrentBinding(ctx, tenant, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, err
	}
	robot, err := r.store.GetRobot(ctx, tenant, b.RobotID)
	if err != nil {
		return Resolution{}, fmt.Errorf("bound robot %s: %w", b.RobotID, err)
	}
	return Resolution{RobotID: robot.ID, Version: b.Version, Active: robot.Active, Bound: true}, nil
}

// BindRobot makes robotID the profile for rounds of gameID started from now
// on. Open rounds keep the robot they captured.
func (r *Registry) BindRobot(ctx context.Context, tenant, gameID, robotID, actor string) (store.RobotBinding, error) {
	if gameID == "" || robotID == "" {
		return store.RobotBinding{}, fmt.Errorf("%w: game_id and robot_id are required", errs.ErrInvalidRequest)
	}
	if _, err := r.GetRobot(ctx, tenant, robotID); err != nil {
		return store.RobotBinding{}, err
	}
	b, err := r.store.InsertBinding(ctx, store.RobotBinding{
		Tenant:        tenant,
		GameID:        gameID,
		RobotID:       robotID,
		BoundBy:       actor,
		EffectiveFrom: r.now().UTC(),
	})
	if err != nil {
		return store.RobotBinding{}, err
	}
	log.Info().Str("tenant", tenant).Str("game_id", gameID).Str("robot_id", robotID).Int64("version", b.Version).Str("actor", actor).Msg("robot bound")
	events.Emit(ctx, r.events, events.TypeRobotBindingChanged, tenant, gameID, b)
	return b, nil
}

// CloneRobot copies a profile into a new inactive robot so it can be tuned
// without touching the live one.
func (r *Registry) CloneRobot(ctx context.Context, tenant, robotID, actor string) (*store.Robot, error) {
	src, err := r.GetRobot(ctx, tenant, robotID)
	if err != nil {
		return nil, err
	}
	clone := *src
	clone.ID = store.NewID("rbt")
	clone.Name = src.Name + " (copy)"
	clone.Active = false
	clone.ParentID = src.ID
	clone.CreatedBy = actor
	clone.CreatedAt = r.now().UTC()
	if err := r.store.InsertRobot(ctx, clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

// SetActive toggles a robot. Rounds already bound to it are unaffected.
func (r *Registry) SetActive(ctx context.Context, tenant, robotID string, active bool) (*store.Robot, error) {
	err := r.store.SetRobotActive(ctx, tenant, robotID, active)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("robot %s: %w", robotID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r.store.GetRobot(ctx, tenant, robotID)
}

func (r *Registry) Bindings(ctx context.Context, tenant, gameID string) ([]store.RobotBinding, error) {
	return r.store.ListBindings(ctx, tenant, gameID)
}
