package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single top-of-book snapshot for one security as published by the feed.
// Cumulative fields (Volume, BuyQty, SellQty) are running totals since session start.
type Quote struct {
	SecurityID uint32          `json:"security_id"`
	Segment    uint8           `json:"segment"`
	Timestamp  time.Time       `json:"timestamp"`
	LTP        decimal.Decimal `json:"ltp"`
	LTQ        int64           `json:"last_traded_qty"`
	ATP        decimal.Decimal `json:"avg_traded_price"`
	Volume     int64           `json:"volume"`
	BuyQty     int64           `json:"total_buy_quantity"`
	SellQty    int64           `json:"total_sell_quantity"`

	DayOpen  decimal.Decimal `json:"day_open"`
	DayClose decimal.Decimal `json:"day_close"`
	DayHigh  decimal.Decimal `json:"day_high"`
	DayLow   decimal.Decimal `json:"day_low"`
}

// HasPrice reports whether the snapshot carries a traded price.
// A zero LTP means the instrument has not traded yet.
func (q Quote) HasPrice() bool {
	return q.LTP.IsPositive()
}

// LiveState is the latest known view of one security, served to the query surface.
type LiveState struct {
	SecurityID   uint32          `json:"security_id"`
	Quote        Quote           `json:"quote"`
	Record       FlowRecord      `json:"record"`
	TickerLTP    decimal.Decimal `json:"ticker_ltp"`
	OpenInterest int64           `json:"open_interest"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
