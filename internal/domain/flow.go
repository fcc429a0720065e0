package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal is the directional label attached to every FlowRecord.
type Signal string

const (
	SignalBullish Signal = "BULLISH_FLOW"
	SignalBearish Signal = "BEARISH_FLOW"
	SignalNeutral Signal = "NEUTRAL_FLOW"
)

// IsDirectional returns true for BULLISH_FLOW and BEARISH_FLOW.
func (s Signal) IsDirectional() bool {
	return s == SignalBullish || s == SignalBearish
}

// FlowRecord is derived from a (current, previous) snapshot pair.
// Records are immutable once appended to an instrument's history.
type FlowRecord struct {
	SecurityID    uint32          `json:"security_id"`
	Timestamp     time.Time       `json:"timestamp"`
	LTP           decimal.Decimal `json:"ltp"`
	LastTradedQty int64           `json:"last_traded_qty"`

	CumulativeBuy  int64 `json:"cumulative_buy_qty"`
	CumulativeSell int64 `json:"cumulative_sell_qty"`

	BuyQtyDelta    int64   `json:"buy_qty_delta"`
	SellQtyDelta   int64   `json:"sell_qty_delta"`
	VolumeDelta    int64   `json:"volume_delta"`
	IntervalVolume int64   `json:"interval_volume"`
	NetTradeFlow   int64   `json:"net_trade_flow"`
	BuyPercentage  float64 `json:"buy_percentage"`
	SellPercentage float64 `json:"sell_percentage"`
	BuyIntensity   float64 `json:"buy_intensity"`
	SellIntensity  float64 `json:"sell_intensity"`
	FlowRate       float64 `json:"flow_rate"` // net flow per second since the previous snapshot

	// Tick rule classification
	BuyInitiated  int64 `json:"buy_initiated"`
	SellInitiated int64 `json:"sell_initiated"`
	TickDelta     int64 `json:"tick_delta"`

	Rollover     bool          `json:"rollover"`
	Signal       Signal        `json:"signal"`
	BullishScore int           `json:"bullish_score"`
	BearishScore int           `json:"bearish_score"`
	Depth        *DepthMetrics `json:"depth,omitempty"`
}

// ImbalanceRatio returns the attached depth imbalance, or the neutral ratio
// when the record was computed without depth.
func (r FlowRecord) ImbalanceRatio() float64 {
	if r.Depth == nil {
		return NeutralImbalance
	}
	return r.Depth.ImbalanceRatio
}

// FlowSummary aggregates the records that fall inside a lookback window.
type FlowSummary struct {
	SecurityID         uint32         `json:"security_id"`
	PeriodMinutes      int            `json:"period_minutes"`
	DataPoints         int            `json:"data_points"`
	AvgImbalanceRatio  float64        `json:"avg_imbalance_ratio"`
	TotalNetTradeFlow  int64          `json:"total_net_trade_flow"`
	AvgBuyPercentage   float64        `json:"avg_buy_percentage"`
	SignalDistribution map[Signal]int `json:"signal_distribution"`
	DominantSignal     Signal         `json:"dominant_signal"`
}

// FlowRow is the persisted form of a processed snapshot.
// BuyVolume and SellVolume hold the cumulative quantities, so bucket
// volumes are computed as edge differences.
type FlowRow struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement" json:"-"`
	SecurityID    uint32          `gorm:"index:idx_flow_security_ts,priority:1" json:"security_id"`
	Timestamp     time.Time       `gorm:"index:idx_flow_security_ts,priority:2" json:"timestamp"`
	BuyVolume     int64           `json:"buy_volume"`
	SellVolume    int64           `json:"sell_volume"`
	LTP           decimal.Decimal `gorm:"type:decimal(20,8)" json:"ltp"`
	Volume        int64           `json:"volume"`
	BuyInitiated  int64           `json:"buy_initiated"`
	SellInitiated int64           `json:"sell_initiated"`
	TickDelta     int64           `json:"tick_delta"`
}

// NewFlowRow builds the sink row for a processed snapshot.
func NewFlowRow(q Quote, r FlowRecord) FlowRow {
	return FlowRow{
		SecurityID:    q.SecurityID,
		Timestamp:     q.Timestamp,
		BuyVolume:     q.BuyQty,
		SellVolume:    q.SellQty,
		LTP:           q.LTP,
		Volume:        q.Volume,
		BuyInitiated:  r.BuyInitiated,
		SellInitiated: r.SellInitiated,
		TickDelta:     r.TickDelta,
	}
}
