package store

import (
	"time"

	"casino-settlement/internal/money"
)

type EntryKind string

const (
	KindBet               EntryKind = "bet"
	KindWin               EntryKind = "win"
	KindRollback          EntryKind = "rollback"
	KindDeposit           EntryKind = "deposit"
	KindWithdrawalHold    EntryKind = "withdrawal_hold"
	KindWithdrawalRelease EntryKind = "withdrawal_release"
	KindWithdrawalCapture EntryKind = "withdrawal_capture"
	KindAdjustment        EntryKind = "adjustment"
)

// BalanceKey identifies one balance row. Every balance mutation is serialized
// per key.
type BalanceKey struct {
	Tenant   string
	PlayerID string
	Currency string
}

type Balance struct {
	BalanceKey
	AvailableReal  money.Amount
	AvailableBonus money.Amount
	Held           money.Amount
	UpdatedAt      time.Time
}

// Partitions holds one signed amount per balance partition. It carries both
// deltas and post-mutation snapshots.
type Partitions struct {
	Real  money.Amount `json:"real"`
	Bonus money.Amount `json:"bonus"`
	Held  money.Amount `json:"held"`
}

func (d Partitions) Neg() Partitions {
	return Partitions{Real: -d.Real, Bonus: -d.Bonus, Held: -d.Held}
}

func (b Balance) Apply(d Partitions) Balance {
	b.AvailableReal += d.Real
	b.AvailableBonus += d.Bonus
	b.Held += d.Held
	return b
}

func (b Balance) Partitions() Partitions {
	return Partitions{Real: b.AvailableReal, Bonus: b.AvailableBonus, Held: b.Held}
}

// Valid reports whether no partition is negative.
func (b Balance) Valid() bool {
	return b.AvailableReal >= 0 && b.AvailableBonus >= 0 && b.Held >= 0
}

// Bounded reports whether every partition is at most money.MaxAmount.
func (b Balance) Bounded() bool {
	return b.AvailableReal <= money.MaxAmount && b.AvailableBonus <= money.MaxAmount && b.Held <= money.MaxAmount
}

// JournalEntry is immutable once appended.
type JournalEntry struct {
	Tenant   string       `json:"-"`
	TxID     string       `json:"tx_id"`
	PlayerID string       `json:"player_id"`
	Currency string       `json:"currency"`
	Kind     EntryKind    `json:"kind"`
	Amount   money.Amount `json:"amount"`

	RoundID string    `json:"round_id,omitempty"`
	GameID  string    `json:"game_id,omitempty"`
	RobotID string    `json:"robot_id,omitempty"`
	RefTxID string    `json:"ref_tx_id,omitempty"`
	RefKind EntryKind `json:"ref_kind,omitempty"`

	Deltas       Partitions `json:"deltas"`
	BalanceAfter Partitions `json:"balance_after"`
	Actor        string     `json:"actor"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SignedDelta is the net change the entry made to spendable funds.
func (e JournalEntry) SignedDelta() money.Amount {
	return e.Deltas.Real + e.Deltas.Bonus
}

type JournalFilter struct {
	Tenant   string
	PlayerID string
	RoundID  string
	Kind     EntryKind
	From     *time.Time
	To       *time.Time
}

// Round is the audit record frozen when a round's first entry is appended.
type Round struct {
	Tenant         string
	PlayerID       string
	RoundID        string
	GameID         string
	Currency       string
	RobotID        string
	BindingVersion int64
	OpenedAt       time.Time
	ClosedAt       *time.Time
}

// RoundActivity is one row of the history index, newest first.
type RoundActivity struct {
	RoundID        string
	LastActivityAt time.Time
}

type RoundCursor struct {
	LastActivityAt time.Time
	RoundID        string
}

type RobotKind string

const (
	RobotFixedRTP       RobotKind = "fixed_rtp"
	RobotVolatilityBand RobotKind = "volatility_band"
)

type Robot struct {
	Tenant        string    `json:"-"`
	ID            string    `json:"robot_id"`
	Name          string    `json:"name"`
	Kind          RobotKind `json:"kind"`
	RTPBps        int       `json:"rtp_bps"`
	Volatility    string    `json:"volatility,omitempty"`
	MaxMultiplier int       `json:"max_multiplier"`
	Active        bool      `json:"active"`
	ParentID      string    `json:"parent_id,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type RobotBinding struct {
	Tenant        string    `json:"-"`
	GameID        string    `json:"game_id"`
	RobotID       string    `json:"robot_id"`
	Version       int64     `json:"version"`
	BoundBy       string    `json:"bound_by"`
	EffectiveFrom time.Time `json:"effective_from"`
}

type WithdrawalStatus string

const (
	WithdrawalRequested     WithdrawalStatus = "requested"
	WithdrawalApproved      WithdrawalStatus = "approved"
	WithdrawalPayoutPending WithdrawalStatus = "payout_pending"
	WithdrawalPaid          WithdrawalStatus = "paid"
	WithdrawalRejected      WithdrawalStatus = "rejected"
)

type Withdrawal struct {
	Tenant      string           `json:"-"`
	ID          string           `json:"withdrawal_id"`
	PlayerID    string           `json:"player_id"`
	Currency    string           `json:"currency"`
	Amount      money.Amount     `json:"amount"`
	Address     string           `json:"address"`
	Status      WithdrawalStatus `json:"status"`
	ProviderRef string           `json:"provider_ref,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	RequestedBy string           `json:"requested_by"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositCredited DepositStatus = "credited"
	DepositFailed   DepositStatus = "failed"
)

type DepositSession struct {
	Tenant         string        `json:"-"`
	ID             string        `json:"session_id"`
	Provider       string        `json:"provider"`
	ProviderTxID   string        `json:"provider_tx_id"`
	PlayerID       string        `json:"player_id"`
	Currency       string        `json:"currency"`
	ExpectedAmount money.Amount  `json:"expected_amount"`
	Status         DepositStatus `json:"status"`
	CreditedTxID   string        `json:"credited_tx_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type IdempotencyStatus string

const (
	IdempotencyInFlight  IdempotencyStatus = "in_flight"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

type IdempotencyScope struct {
	Tenant string
	Caller string
	Key    string
}

type IdempotencyRecord struct {
	IdempotencyScope
	PayloadHash string
	// Token identifies the reservation holder; only it may complete or
	// release the record.
	Token       string
	Status      IdempotencyStatus
	Response    []byte
	ErrorCode   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}
