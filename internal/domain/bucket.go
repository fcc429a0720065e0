package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dominance is the qualitative label of a bucket derived from its summed tick delta.
type Dominance string

const (
	DominanceBuy     Dominance = "Buy Dominant"
	DominanceSell    Dominance = "Sell Dominant"
	DominanceNeutral Dominance = "Neutral"
)

// DominanceOf maps a summed tick delta to its label.
func DominanceOf(tickDelta int64) Dominance {
	switch {
	case tickDelta > 0:
		return DominanceBuy
	case tickDelta < 0:
		return DominanceSell
	default:
		return DominanceNeutral
	}
}

// TimeBucket is computed on demand from the snapshots of one aligned window.
// It is never persisted.
type TimeBucket struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Label     string    `json:"timestamp"` // HH:MM of Start
	Snapshots int       `json:"snapshots"`

	BuyVolume     int64 `json:"buy_volume"`
	SellVolume    int64 `json:"sell_volume"`
	Delta         int64 `json:"delta"`
	BuyInitiated  int64 `json:"buy_initiated"`
	SellInitiated int64 `json:"sell_initiated"`
	TickDelta     int64 `json:"tick_delta"`

	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	Dominance Dominance `json:"dominance"`
}
