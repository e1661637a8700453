package deposit

import (
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/money"
	"casino-settlement/internal/store"
)

type SessionInput struct {
	Provider       string       `json:"provider"`
	ProviderTxID   string       `json:"provider_tx_id"`
	PlayerID       string       `json:"player_id"`
	Currency       string       `json:"currency"`
	ExpectedAmount money.Amount `json:"expected_amount"`
}

type SessionResult struct {
	Session  store.DepositSession `json:"session"`
	Replayed bool                 `json:"replayed"`
}

type ConfirmInput struct {
	PlayerID     string       `json:"player_id"`
	ProviderTxID string       `json:"provider_tx_id"`
	Amount       money.Amount `json:"amount"`
	Currency     string       `json:"currency"`
}

type ConfirmResult struct {
	Entry     store.JournalEntry `json:"entry"`
	Balance   ledger.View        `json:"balance"`
	Duplicate bool               `json:"duplicate"`
}

const (
	WebhookSucceeded = "succeeded"
	WebhookFailed    = "failed"
)

// Webhook is a payment provider's asynchronous confirmation.
type Webhook struct {
	ProviderTxID string       `json:"provider_tx_id"`
	Amount       money.Amount `json:"amount"`
	Currency     string       `json:"currency"`
	Status       string       `json:"status"`
}

const (
	StatusCredited  = "credited"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

type WebhookResult struct {
	Status  string                `json:"status"`
	Reason  string                `json:"reason,omitempty"`
	TxID    string                `json:"tx_id,omitempty"`
	Balance *ledger.View          `json:"balance,omitempty"`
	Session *store.DepositSession `json:"session,omitempty"`

	// set only on the delivery that credited; not part of a stored replay
	entry *store.JournalEntry
}
