// Package rounds derives round summaries from the journal at read time. It
// holds no state of its own.
package rounds

import (
	"time"

	"casino-settlement/internal/money"
	"casino-settlement/internal/store"
)

// Totals is the fold of a round's journal entries. Add and merge commute, so
// entries may arrive in any order.
type Totals struct {
	TotalBet       money.Amount
	TotalWin       money.Amount
	EntryCount     int
	Wins           int
	Rollbacks      int
	LastActivityAt time.Time
}

func (t Totals) Add(e store.JournalEntry) Totals {
	switch e.Kind {
	case store.KindBet:
		t.TotalBet += e.Amount
	case store.KindWin:
		t.TotalWin += e.Amount
		t.Wins++
	case store.KindRollback:
		switch e.RefKind {
		case store.KindBet:
			t.TotalBet -= e.Amount
		case store.KindWin:
			t.TotalWin -= e.Amount
		}
		t.Rollbacks++
	}
	t.EntryCount++
	if e.CreatedAt.After(t.LastActivityAt) {
		t.LastActivityAt = e.CreatedAt
	}
	return t
}

func (t Totals) merge(o Totals) Totals {
	t.TotalBet += o.TotalBet
	t.TotalWin += o.TotalWin
	t.EntryCount += o.EntryCount
	t.Wins += o.Wins
	t.Rollbacks += o.Rollbacks
	if o.LastActivityAt.After(t.LastActivityAt) {
		t.LastActivityAt = o.LastActivityAt
	}
	return t
}

func (t Totals) Net() money.Amount {
	return t.TotalWin - t.TotalBet
}

func Fold(entries []store.JournalEntry) Totals {
	var t Totals
	for _, e := range entries {
		t = t.Add(e)
	}
	return t
}

const (
	StatusOpen    = "open"
	StatusSettled = "settled"
)

type Summary struct {
	RoundID        string       `json:"round_id"`
	GameID         string       `json:"game_id,omitempty"`
	RobotID        string       `json:"robot_id,omitempty"`
	Currency       string       `json:"currency,omitempty"`
	TotalBet       money.Amount `json:"total_bet"`
	TotalWin       money.Amount `json:"total_win"`
	Net            money.Amount `json:"net"`
	EntryCount     int          `json:"entry_count"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	Status         string       `json:"status"`
	Reopened       bool         `json:"reopened"`
}

// Summarize combines a round's totals with its audit record, which may be nil
// for rounds whose audit row is not visible yet.
func Summarize(roundID string, t Totals, audit *store.Round) Summary {
	s := Summary{
		RoundID:        roundID,
		TotalBet:       t.TotalBet,
		TotalWin:       t.TotalWin,
		Net:            t.Net(),
		EntryCount:     t.EntryCount,
		LastActivityAt: t.LastActivityAt,
		Status:         StatusOpen,
	}
	closed := false
	if audit != nil {
		s.GameID = audit.GameID
		s.RobotID = audit.RobotID
		s.Currency = audit.Currency
		closed = audit.ClosedAt != nil
	}
	if t.Wins > 0 || closed {
		s.Status = StatusSettled
		s.Reopened = t.Rollbacks > 0
	}
	return s
}
