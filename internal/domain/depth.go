package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NeutralImbalance is reported when no depth is available or both sides are empty.
	NeutralImbalance = 1.0
	// MaxImbalanceRatio caps the ratio when the ask side is empty.
	MaxImbalanceRatio = 99.0
	// DefaultLargeOrderMultiplier flags levels larger than 2x the side average.
	DefaultLargeOrderMultiplier = 2.0

	topLevels = 5
)

// DepthLevel is one price level of the order book.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// DepthSnapshot is a market-depth view fetched from the REST quote endpoint.
type DepthSnapshot struct {
	SecurityID uint32       `json:"security_id"`
	Segment    string       `json:"segment"`
	Timestamp  time.Time    `json:"timestamp"`
	Bids       []DepthLevel `json:"bids"`
	Asks       []DepthLevel `json:"asks"`
}

// DepthMetrics are the secondary order-book metrics attached to a FlowRecord.
type DepthMetrics struct {
	ImbalanceRatio float64         `json:"imbalance_ratio"`
	WeightedBid    decimal.Decimal `json:"weighted_bid"`
	WeightedAsk    decimal.Decimal `json:"weighted_ask"`
	Spread         decimal.Decimal `json:"spread"`
	LargeBidCount  int             `json:"large_bid_count"`
	LargeAskCount  int             `json:"large_ask_count"`
	MaxBidSize     int64           `json:"max_bid_size"`
	MaxAskSize     int64           `json:"max_ask_size"`
	AvgBidSize     float64         `json:"avg_bid_size"`
	AvgAskSize     float64         `json:"avg_ask_size"`
	Top5BidQty     int64           `json:"top5_bid_qty"`
	Top5AskQty     int64           `json:"top5_ask_qty"`
	DeepBidQty     int64           `json:"deep_bid_qty"`
	DeepAskQty     int64           `json:"deep_ask_qty"`
	ObservedAt     time.Time       `json:"observed_at"`
}

func totalQty(levels []DepthLevel) int64 {
	var sum int64
	for _, l := range levels {
		sum += l.Quantity
	}
	return sum
}

// ImbalanceRatio is total bid quantity over total ask quantity.
// >1 means buying pressure, <1 selling pressure.
func (d DepthSnapshot) ImbalanceRatio() float64 {
	bid := totalQty(d.Bids)
	ask := totalQty(d.Asks)
	if ask == 0 {
		if bid == 0 {
			return NeutralImbalance
		}
		return MaxImbalanceRatio
	}
	ratio := float64(bid) / float64(ask)
	if ratio > MaxImbalanceRatio {
		return MaxImbalanceRatio
	}
	return ratio
}

func weightedPrice(levels []DepthLevel) decimal.Decimal {
	total := totalQty(levels)
	if total == 0 {
		return decimal.Zero
	}
	value := decimal.Zero
	for _, l := range levels {
		value = value.Add(l.Price.Mul(decimal.NewFromInt(l.Quantity)))
	}
	return value.Div(decimal.NewFromInt(total))
}

// WeightedPrices returns the volume-weighted bid and ask prices and their spread.
func (d DepthSnapshot) WeightedPrices() (bid, ask, spread decimal.Decimal) {
	bid = weightedPrice(d.Bids)
	ask = weightedPrice(d.Asks)
	return bid, ask, ask.Sub(bid)
}

func largeOrders(levels []DepthLevel, multiplier float64) (count int, maxSize int64, avg float64) {
	if len(levels) == 0 {
		return 0, 0, 0
	}
	avg = float64(totalQty(levels)) / float64(len(levels))
	threshold := avg * multiplier
	for _, l := range levels {
		if float64(l.Quantity) > threshold {
			count++
		}
		if l.Quantity > maxSize {
			maxSize = l.Quantity
		}
	}
	return count, maxSize, avg
}

// LargeOrders counts levels whose quantity exceeds multiplier times the side average.
func (d DepthSnapshot) LargeOrders(multiplier float64) (bidCount, askCount int) {
	bidCount, _, _ = largeOrders(d.Bids, multiplier)
	askCount, _, _ = largeOrders(d.Asks, multiplier)
	return bidCount, askCount
}

func splitTop(levels []DepthLevel) (top, deep int64) {
	for i, l := range levels {
		if i < topLevels {
			top += l.Quantity
		} else {
			deep += l.Quantity
		}
	}
	return top, deep
}

// Metrics computes every secondary metric in one pass.
func (d DepthSnapshot) Metrics(multiplier float64) DepthMetrics {
	if multiplier <= 0 {
		multiplier = DefaultLargeOrderMultiplier
	}
	m := DepthMetrics{
		ImbalanceRatio: d.ImbalanceRatio(),
		ObservedAt:     d.Timestamp,
	}
	m.WeightedBid, m.WeightedAsk, m.Spread = d.WeightedPrices()
	m.LargeBidCount, m.MaxBidSize, m.AvgBidSize = largeOrders(d.Bids, multiplier)
	m.LargeAskCount, m.MaxAskSize, m.AvgAskSize = largeOrders(d.Asks, multiplier)
	m.Top5BidQty, m.DeepBidQty = splitTop(d.Bids)
	m.Top5AskQty, m.DeepAskQty = splitTop(d.Asks)
	return m
}
