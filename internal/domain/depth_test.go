package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func level(price float64, qty int64) DepthLevel {
	return DepthLevel{Price: decimal.NewFromFloat(price), Quantity: qty, Orders: 1}
}

func TestDepthSnapshot_ImbalanceRatio(t *testing.T) {
	tests := []struct {
		name string
		bids []DepthLevel
		asks []DepthLevel
		want float64
	}{
		{"buying pressure", []DepthLevel{level(100, 300)}, []DepthLevel{level(101, 100)}, 3.0},
		{"selling pressure", []DepthLevel{level(100, 50)}, []DepthLevel{level(101, 100)}, 0.5},
		{"empty book", nil, nil, NeutralImbalance},
		{"no asks caps ratio", []DepthLevel{level(100, 10)}, nil, MaxImbalanceRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DepthSnapshot{Bids: tt.bids, Asks: tt.asks}
			assert.InDelta(t, tt.want, d.ImbalanceRatio(), 1e-9)
		})
	}
}

func TestDepthSnapshot_WeightedPrices(t *testing.T) {
	d := DepthSnapshot{
		Bids: []DepthLevel{level(100, 10), level(99, 30)},
		Asks: []DepthLevel{level(101, 20), level(102, 20)},
	}

	bid, ask, spread := d.WeightedPrices()

	// (100*10 + 99*30) / 40 = 99.25
	assert.True(t, bid.Equal(decimal.RequireFromString("99.25")), "bid = %s", bid)
	assert.True(t, ask.Equal(decimal.RequireFromString("101.5")), "ask = %s", ask)
	assert.True(t, spread.Equal(decimal.RequireFromString("2.25")), "spread = %s", spread)
}

func TestDepthSnapshot_LargeOrders(t *testing.T) {
	d := DepthSnapshot{
		// avg = 100, threshold = 200
		Bids: []DepthLevel{level(100, 20), level(99, 20), level(98, 20), level(97, 340)},
		Asks: []DepthLevel{level(101, 50), level(102, 50)},
	}

	bids, asks := d.LargeOrders(DefaultLargeOrderMultiplier)
	assert.Equal(t, 1, bids)
	assert.Equal(t, 0, asks)
}

func TestDepthSnapshot_Metrics(t *testing.T) {
	bids := make([]DepthLevel, 0, 7)
	for i := 0; i < 7; i++ {
		bids = append(bids, level(100-float64(i), 10))
	}
	d := DepthSnapshot{Bids: bids, Asks: []DepthLevel{level(101, 35)}}

	m := d.Metrics(0)

	assert.InDelta(t, 2.0, m.ImbalanceRatio, 1e-9)
	assert.Equal(t, int64(50), m.Top5BidQty)
	assert.Equal(t, int64(20), m.DeepBidQty)
	assert.Equal(t, int64(35), m.Top5AskQty)
	assert.Equal(t, int64(10), m.MaxBidSize)
	assert.InDelta(t, 10.0, m.AvgBidSize, 1e-9)
}

func TestFlowRecord_ImbalanceRatioDefault(t *testing.T) {
	assert.Equal(t, NeutralImbalance, FlowRecord{}.ImbalanceRatio())
	assert.Equal(t, 1.8, FlowRecord{Depth: &DepthMetrics{ImbalanceRatio: 1.8}}.ImbalanceRatio())
}

func TestDominanceOf(t *testing.T) {
	assert.Equal(t, DominanceBuy, DominanceOf(20))
	assert.Equal(t, DominanceSell, DominanceOf(-1))
	assert.Equal(t, DominanceNeutral, DominanceOf(0))
}
