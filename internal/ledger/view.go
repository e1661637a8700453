package ledger

import (
	"time"

	"casino-settlement/internal/money"
	"casino-settlement/internal/store"
)

// View is the wire shape of a balance.
type View struct {
	PlayerID       string       `json:"player_id"`
	Currency       string       `json:"currency"`
	AvailableReal  money.Amount `json:"available_real"`
	AvailableBonus money.Amount `json:"available_bonus"`
	Held           money.Amount `json:"held"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func ViewOf(b store.Balance) View {
	return View{
		PlayerID:       b.PlayerID,
		Currency:       b.Currency,
		AvailableReal:  b.AvailableReal,
		AvailableBonus: b.AvailableBonus,
		Held:           b.Held,
		UpdatedAt:      b.UpdatedAt,
	}
}
