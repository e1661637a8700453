// Package events publishes settlement facts to downstream consumers after
// they commit. Delivery is best effort.
package events

import (
	"context"
	"encoding/json"
	"time"

	"casino-settlement/internal/metrics"

	"github.com/rs/zerolog/log"
)

const (
	TypeEntryAppended       = "settlement.entry_appended"
	TypeRoundClosed         = "settlement.round_closed"
	TypeWithdrawalChanged   = "withdrawal.status_changed"
	TypeDepositCredited     = "deposit.credited"
	TypeDepositFailed       = "deposit.failed"
	TypeRobotBindingChanged = "robot.binding_changed"
)

type Event struct {
	Type       string          `json:"type"`
	Tenant     string          `json:"tenant"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// New encodes data into an event. Key orders events for one partition key
// (the player id for balance events).
func New(typ, tenant, key string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Tenant: tenant, Key: key, OccurredAt: time.Now().UTC(), Data: raw}, nil
}

// PublishTimeout bounds one Emit call.
var PublishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Name() string
	Close() error
}

// Emit builds and publishes an event, logging failures instead of returning
// them. The fact it describes has already committed, so the publish outlives
// a cancelled request but never runs longer than PublishTimeout.
func Emit(ctx context.Context, p Publisher, typ, tenant, key string, data any) {
	if p == nil {
		return
	}
	e, err := New(typ, tenant, key, data)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("event encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
	defer cancel()
	err = p.Publish(ctx, e)
	metrics.RecordEventPublish(p.Name(), err)
	if err != nil {
		log.Warn().Err(err).Str("type", typ).Str("tenant", tenant).Str("key", key).Str("backend", p.Name()).Msg("event publish failed")
	}
}

// LogPublisher writes events to the application log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	log.Info().Str("type", e.Type).Str("tenant", e.Tenant).Str("key", e.Key).RawJSON("data", e.Data).Msg("event")
	return nil
}

func (LogPublisher) Name() string { return "log" }

func (LogPublisher) Close() error { return nil }
