package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FlowAlert is raised when an instrument enters a directional flow state.
type FlowAlert struct {
	SecurityID    uint32          `json:"security_id"`
	Signal        Signal          `json:"signal"`
	Previous      Signal          `json:"previous"`
	NetTradeFlow  int64           `json:"net_trade_flow"`
	BuyPercentage float64         `json:"buy_percentage"`
	LTP           decimal.Decimal `json:"ltp"`
	At            time.Time       `json:"at"`
}

// NewFlowAlert returns an alert when rec carries a directional signal that
// differs from the previous label, and nil otherwise.
// Repeated BULLISH_FLOW records raise a single alert:
// - NEUTRAL -> BULLISH: alert
// - BULLISH -> BULLISH: no alert
// - BULLISH -> BEARISH: alert
func NewFlowAlert(previous Signal, rec FlowRecord) *FlowAlert {
	if !rec.Signal.IsDirectional() || rec.Signal == previous {
		return nil
	}
	if previous == "" {
		previous = SignalNeutral
	}
	return &FlowAlert{
		SecurityID:    rec.SecurityID,
		Signal:        rec.Signal,
		Previous:      previous,
		NetTradeFlow:  rec.NetTradeFlow,
		BuyPercentage: rec.BuyPercentage,
		LTP:           rec.LTP,
		At:            rec.Timestamp,
	}
}
