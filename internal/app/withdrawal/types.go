package withdrawal

import (
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/money"
	"casino-settlement/internal/store"
)

type RequestInput struct {
	PlayerID string       `json:"player_id"`
	Currency string       `json:"currency"`
	Amount   money.Amount `json:"amount"`
	Address  string       `json:"address"`
}

type RejectInput struct {
	Reason string `json:"reason,omitempty"`
}

type PaidInput struct {
	ProviderRef string `json:"provider_ref"`
}

// patch carries the fields a transition records besides the status.
type patch struct {
	Reason      string `json:"reason,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

type Result struct {
	Withdrawal store.Withdrawal `json:"withdrawal"`
	Balance    ledger.View      `json:"balance"`
	Replayed   bool             `json:"replayed"`
}

type action string

const (
	actionApprove action = "approve"
	actionReject  action = "reject"
	actionPayout  action = "payout"
	actionPaid    action = "paid"
)

// transition describes one edge of the withdrawal state machine and the
// balance movement it makes.
type transition struct {
	from  []store.WithdrawalStatus
	to    store.WithdrawalStatus
	kind  store.EntryKind
	delta func(money.Amount) store.Partitions
}

var transitions = map[action]transition{
	actionApprove: {
		from: []store.WithdrawalStatus{store.WithdrawalRequested},
		to:   store.WithdrawalApproved,
	},
	actionPayout: {
		from: []store.WithdrawalStatus{store.WithdrawalApproved},
		to:   store.WithdrawalPayoutPending,
	},
	actionReject: {
		from:  []store.WithdrawalStatus{store.WithdrawalRequested, store.WithdrawalApproved, store.WithdrawalPayoutPending},
		to:    store.WithdrawalRejected,
		kind:  store.KindWithdrawalRelease,
		delta: ledger.Release,
	},
	actionPaid: {
		from:  []store.WithdrawalStatus{store.WithdrawalPayoutPending},
		to:    store.WithdrawalPaid,
		kind:  store.KindWithdrawalCapture,
		delta: ledger.Capture,
	},
}

func (t transition) allows(s store.WithdrawalStatus) bool {
	for _, from := range t.from {
		if from == s {
			return true
		}
	}
	return false
}
