package settlement

import (
	"fmt"
	"strings"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/money"
	"casino-settlement/internal/store"
)

type Action string

const (
	ActionBet      Action = "bet"
	ActionWin      Action = "win"
	ActionRollback Action = "rollback"
)

// Request is an inbound settlement call from a game provider. Amounts are
// never signed; the action decides the direction.
type Request struct {
	Action   Action       `json:"action"`
	PlayerID string       `json:"player_id"`
	GameID   string       `json:"game_id"`
	RoundID  string       `json:"round_id"`
	TxID     string       `json:"tx_id"`
	RefTxID  string       `json:"ref_tx_id,omitempty"`
	Amount   money.Amount `json:"amount"`
	Currency string       `json:"currency"`
	// RobotID is the profile the caller reports; it is used only for games
	// with no binding.
	RobotID string `json:"robot_id,omitempty"`
}

func (r *Request) normalize() {
	r.PlayerID = strings.TrimSpace(r.PlayerID)
	r.GameID = strings.TrimSpace(r.GameID)
	r.RoundID = strings.TrimSpace(r.RoundID)
	r.TxID = strings.TrimSpace(r.TxID)
	r.RefTxID = strings.TrimSpace(r.RefTxID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

func (r Request) validate() error {
	if r.PlayerID == "" || r.Currency == "" || r.TxID == "" {
		return fmt.Errorf("%w: player_id, currency and tx_id are required", errs.ErrInvalidRequest)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", errs.ErrInvalidRequest)
	}
	switch r.Action {
	case ActionBet, ActionWin:
		if r.RoundID == "" || r.GameID == "" {
			return fmt.Errorf("%w: round_id and game_id are required", errs.ErrInvalidRequest)
		}
		if r.Action == ActionBet && r.Amount.IsZero() {
			return fmt.Errorf("%w: bet amount must be positive", errs.ErrInvalidRequest)
		}
		if r.RefTxID != "" {
			return fmt.Errorf("%w: ref_tx_id is only valid on rollback", errs.ErrInvalidRequest)
		}
	case ActionRollback:
		if r.RefTxID == "" {
			return fmt.Errorf("%w: ref_tx_id is required", errs.ErrInvalidRequest)
		}
		if r.RefTxID == r.TxID {
			return fmt.Errorf("%w: a rollback cannot reference itself", errs.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", errs.ErrInvalidRequest, r.Action)
	}
	return nil
}

// matches reports whether e is the entry this request already produced.
// The reported robot id is not compared because a binding may override it.
func (r Request) matches(e store.JournalEntry) bool {
	if e.PlayerID != r.PlayerID || e.Currency != r.Currency {
		return false
	}
	switch r.Action {
	case ActionBet, ActionWin:
		return string(e.Kind) == string(r.Action) && e.Amount == r.Amount &&
			e.RoundID == r.RoundID && e.GameID == r.GameID
	case ActionRollback:
		return e.Kind == store.KindRollback && e.RefTxID == r.RefTxID &&
			(r.RoundID == "" || r.RoundID == e.RoundID) &&
			(r.Amount.IsZero() || r.Amount == e.Amount)
	}
	return false
}

type Audit struct {
	RobotID        string `json:"robot_id"`
	RoundID        string `json:"round_id"`
	BindingVersion int64  `json:"binding_version,omitempty"`
}

type Result struct {
	TxID     string             `json:"tx_id"`
	Balance  ledger.View        `json:"balance"`
	Audit    Audit              `json:"audit"`
	Entry    store.JournalEntry `json:"entry"`
	Replayed bool               `json:"replayed"`
}

type CloseRequest struct {
	PlayerID string `json:"player_id"`
	RoundID  string `json:"round_id"`
}

type CloseResult struct {
	RoundID  string `json:"round_id"`
	ClosedAt string `json:"closed_at"`
	Replayed bool   `json:"replayed"`
}

type Partition string

const (
	PartitionReal  Partition = "real"
	PartitionBonus Partition = "bonus"
)

// AdjustRequest credits a balance partition on an operator's behalf.
type AdjustRequest struct {
	PlayerID  string       `json:"player_id"`
	Currency  string       `json:"currency"`
	Partition Partition    `json:"partition"`
	Amount    money.Amount `json:"amount"`
	Reason    string       `json:"reason"`
}

type AdjustResult struct {
	TxID     string             `json:"tx_id"`
	Balance  ledger.View        `json:"balance"`
	Entry    store.JournalEntry `json:"entry"`
	Replayed bool               `json:"replayed"`
}
