package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate")
	// ErrStale reports a compare-and-set whose expected state no longer holds.
	ErrStale = errors.New("stale")
)

// LedgerTx is the atomic unit opened by BalanceStore.WithBalance. The balance
// row for the unit's key is locked for the lifetime of the callback and every
// write made through the tx commits or rolls back together.
type LedgerTx interface {
	Balance() Balance
	SaveBalance(ctx context.Context, b Balance) error
	AppendEntry(ctx context.Context, e JournalEntry) error
	GetEntry(ctx context.Context, tenant, txID string) (*JournalEntry, error)
	FindRollback(ctx context.Context, tenant, refTxID string) (*JournalEntry, error)

	GetRound(ctx context.Context, tenant, playerID, roundID string) (*Round, error)
	InsertRound(ctx context.Context, r Round) error
	CloseRound(ctx context.Context, tenant, playerID, roundID string, at time.Time) error

	GetWithdrawal(ctx context.Context, tenant, id string) (*Withdrawal, error)
	InsertWithdrawal(ctx context.Context, w Withdrawal) error
	UpdateWithdrawal(ctx context.Context, w Withdrawal, from WithdrawalStatus) error

	GetDepositSession(ctx context.Context, tenant, providerTxID string) (*DepositSession, error)
	UpdateDepositSession(ctx context.Context, s DepositSession, from DepositStatus) error
}

type BalanceStore interface {
	WithBalance(ctx context.Context, key BalanceKey, fn func(tx LedgerTx) error) error
	// GetBalance returns a zero balance for keys never mutated.
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
}

type JournalStore interface {
	GetEntry(ctx context.Context, tenant, txID string) (*JournalEntry, error)
	ListEntries(ctx context.Context, f JournalFilter, limit, offset int) ([]JournalEntry, error)
	ListRoundActivity(ctx context.Context, tenant, playerID string, after *RoundCursor, limit int) ([]RoundActivity, error)
	ListEntriesForRounds(ctx context.Context, tenant, playerID string, roundIDs []string) ([]JournalEntry, error)
	ListRounds(ctx context.Context, tenant, playerID string, roundIDs []string) ([]Round, error)
	GetRound(ctx context.Context, tenant, playerID, roundID string) (*Round, error)
}

type RobotStore interface {
	InsertRobot(ctx context.Context, r Robot) error
	GetRobot(ctx context.Context, tenant, id string) (*Robot, error)
	SetRobotActive(ctx context.Context, tenant, id string, active bool) error
	// InsertBinding assigns the next version for the game and returns the
	// stored binding.
	InsertBinding(ctx context.Context, b RobotBinding) (RobotBinding, error)
	CurrentBinding(ctx context.Context, tenant, gameID string) (*RobotBinding, error)
	ListBindings(ctx context.Context, tenant, gameID string) ([]RobotBinding, error)
}

type WithdrawalStore interface {
	GetWithdrawal(ctx context.Context, tenant, id string) (*Withdrawal, error)
	ListWithdrawals(ctx context.Context, tenant, playerID string, limit, offset int) ([]Withdrawal, error)
}

type DepositStore interface {
	InsertDepositSession(ctx context.Context, s DepositSession) error
	GetDepositSession(ctx context.Context, tenant, providerTxID string) (*DepositSession, error)
}

type IdempotencyStore interface {
	// InsertIdempotency creates the record unless one exists for the scope.
	// It reports whether this call created it.
	InsertIdempotency(ctx context.Context, rec IdempotencyRecord) (bool, error)
	GetIdempotency(ctx context.Context, scope IdempotencyScope) (*IdempotencyRecord, error)
	// CompleteIdempotency and DeleteIdempotency only touch an in_flight
	// record still held by token.
	CompleteIdempotency(ctx context.Context, scope IdempotencyScope, token string, status IdempotencyStatus, response []byte, errorCode string, now time.Time) error
	// ReclaimIdempotency takes over an in_flight record last touched before
	// staleBefore, or an expired record of any status.
	ReclaimIdempotency(ctx context.Context, rec IdempotencyRecord, staleBefore time.Time) (bool, error)
	DeleteIdempotency(ctx context.Context, scope IdempotencyScope, token string) error
	PurgeIdempotency(ctx context.Context, before time.Time) (int64, error)
}

// Repository is the full persistence surface of the settlement engine.
type Repository interface {
	BalanceStore
	JournalStore
	RobotStore
	WithdrawalStore
	DepositStore
	IdempotencyStore
	Ping(ctx context.Context) error
	Close()
}
