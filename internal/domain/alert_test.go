package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewFlowAlert_Transitions(t *testing.T) {
	at := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	rec := func(sig Signal) FlowRecord {
		return FlowRecord{
			SecurityID:    53216,
			Timestamp:     at,
			LTP:           decimal.NewFromInt(100),
			NetTradeFlow:  500,
			BuyPercentage: 65,
			Signal:        sig,
		}
	}

	t.Run("neutral to bullish raises alert", func(t *testing.T) {
		alert := NewFlowAlert(SignalNeutral, rec(SignalBullish))
		if alert == nil {
			t.Fatal("Expected alert on transition to BULLISH_FLOW")
		}
		if alert.Previous != SignalNeutral || alert.Signal != SignalBullish {
			t.Errorf("Unexpected transition %s -> %s", alert.Previous, alert.Signal)
		}
		if alert.NetTradeFlow != 500 || !alert.At.Equal(at) {
			t.Errorf("Alert did not carry record fields: %+v", alert)
		}
	})

	t.Run("repeated bullish does not alert", func(t *testing.T) {
		if NewFlowAlert(SignalBullish, rec(SignalBullish)) != nil {
			t.Error("Should not alert while the label is unchanged")
		}
	})

	t.Run("bullish to bearish raises alert", func(t *testing.T) {
		if NewFlowAlert(SignalBullish, rec(SignalBearish)) == nil {
			t.Error("Should alert on direction flip")
		}
	})

	t.Run("neutral never alerts", func(t *testing.T) {
		if NewFlowAlert(SignalBullish, rec(SignalNeutral)) != nil {
			t.Error("NEUTRAL_FLOW is not directional")
		}
	})

	t.Run("first record uses neutral as previous", func(t *testing.T) {
		alert := NewFlowAlert("", rec(SignalBearish))
		if alert == nil || alert.Previous != SignalNeutral {
			t.Errorf("Expected previous NEUTRAL_FLOW, got %+v", alert)
		}
	})
}
