package strategy

import (
	"orderflow_go/internal/domain"
)

// FlowInputs are the metrics of one snapshot pair that a Scorer reads.
// Depth fields are only meaningful when HasDepth is set.
type FlowInputs struct {
	NetTradeFlow  int64
	BuyPercentage float64
	BuyIntensity  float64

	HasDepth       bool
	ImbalanceRatio float64
	LargeBidCount  int
	LargeAskCount  int
}

// ScoreResult is the outcome of scoring one FlowInputs.
type ScoreResult struct {
	Bullish int
	Bearish int
	Signal  domain.Signal
}

// Scorer is the interface that all signal scorers must implement.
// It is called synchronously by the engine under the instrument lock, so it
// must be deterministic and must not block.
type Scorer interface {
	Score(in FlowInputs) ScoreResult
}
