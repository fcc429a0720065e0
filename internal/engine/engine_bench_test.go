package engine

import (
	"context"
	"testing"
	"time"

	"orderflow_go/internal/event"
	"orderflow_go/internal/strategy"
)

// BenchmarkEngine_OnEvent measures hot path quote processing without a sink.
func BenchmarkEngine_OnEvent(b *testing.B) {
	e := NewEngine(Config{}, strategy.DefaultScoringTable(), nil, nil, nil)
	ctx := context.Background()
	base := uint32(time.Date(2025, 1, 2, 9, 15, 0, 0, time.UTC).Unix())

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ev := event.AcquireQuoteEvent()
		ev.SecurityID = uint32(i % 50)
		ev.LTP = float32(100 + i%7)
		ev.LTQ = 10
		ev.LTT = base + uint32(i/50)
		ev.BuyQty = uint32(i)
		ev.SellQty = uint32(i / 2)
		ev.Volume = uint32(i + i/2)
		_ = e.OnEvent(ctx, ev)
	}
}
