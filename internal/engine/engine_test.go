package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"
	"orderflow_go/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 2, 9, 16, 0, 0, time.UTC)

type memSink struct {
	mu   sync.Mutex
	rows []domain.FlowRow
	err  error
}

func (s *memSink) Append(_ context.Context, row domain.FlowRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *memSink) QueryRange(context.Context, uint32, time.Time, time.Time) ([]domain.FlowRow, error) {
	return nil, nil
}

type memPublisher struct {
	mu     sync.Mutex
	flows  []domain.FlowRecord
	alerts []domain.FlowAlert
}

func (p *memPublisher) PublishFlow(rec domain.FlowRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flows = append(p.flows, rec)
	return nil
}

func (p *memPublisher) PublishAlert(a domain.FlowAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
	return nil
}

func newTestEngine(sink domain.FlowSink, pub domain.FlowPublisher) *Engine {
	e := NewEngine(Config{}, strategy.DefaultScoringTable(), sink, pub, &infra.Metrics{})
	e.SetClock(func() time.Time { return t0.Add(time.Hour) })
	return e
}

func quote(id uint32, at time.Time, ltp float64, ltq, buy, sell, vol int64) domain.Quote {
	return domain.Quote{
		SecurityID: id,
		Timestamp:  at,
		LTP:        decimal.NewFromFloat(ltp),
		LTQ:        ltq,
		BuyQty:     buy,
		SellQty:    sell,
		Volume:     vol,
	}
}

func TestEngine_TickRule(t *testing.T) {
	e := newTestEngine(nil, nil)
	prices := []float64{100, 101, 101, 99}
	qtys := []int64{10, 20, 15, 30}

	var buys, sells, ticks []int64
	for i := range prices {
		rec, err := e.OnQuote(context.Background(), quote(1, t0.Add(time.Duration(i)*time.Second), prices[i], qtys[i], 0, 0, 0))
		require.NoError(t, err)
		buys = append(buys, rec.BuyInitiated)
		sells = append(sells, rec.SellInitiated)
		ticks = append(ticks, rec.TickDelta)
	}

	assert.Equal(t, []int64{0, 20, 0, 0}, buys)
	assert.Equal(t, []int64{0, 0, 0, 30}, sells)
	assert.Equal(t, []int64{0, 20, 0, -30}, ticks)
}

func TestEngine_TickRuleIgnoresZeroPrice(t *testing.T) {
	e := newTestEngine(nil, nil)
	ctx := context.Background()

	_, _ = e.OnQuote(ctx, quote(1, t0, 100, 5, 0, 0, 0))
	// untraded snapshot does not replace the previous price
	rec, _ := e.OnQuote(ctx, quote(1, t0.Add(time.Second), 0, 5, 0, 0, 0))
	assert.Equal(t, int64(0), rec.TickDelta)

	rec, _ = e.OnQuote(ctx, quote(1, t0.Add(2*time.Second), 101, 7, 0, 0, 0))
	assert.Equal(t, int64(7), rec.BuyInitiated)
}

func TestEngine_FirstRecordDefaults(t *testing.T) {
	e := newTestEngine(nil, nil)
	rec, err := e.OnQuote(context.Background(), quote(1, t0, 100, 10, 5000, 4000, 9000))
	require.NoError(t, err)

	assert.Equal(t, int64(0), rec.BuyQtyDelta)
	assert.Equal(t, int64(0), rec.SellQtyDelta)
	assert.Equal(t, 50.0, rec.BuyPercentage)
	assert.Equal(t, 0.5, rec.BuyIntensity)
	assert.Equal(t, domain.SignalNeutral, rec.Signal)
	assert.Len(t, e.History(1), 1)
}

func TestEngine_DeltasAndSignal(t *testing.T) {
	e := newTestEngine(nil, nil)
	ctx := context.Background()

	_, _ = e.OnQuote(ctx, quote(1, t0, 100, 10, 1000, 1000, 2000))
	rec, err := e.OnQuote(ctx, quote(1, t0.Add(10*time.Second), 101, 10, 1650, 1350, 3000))
	require.NoError(t, err)

	assert.Equal(t, int64(650), rec.BuyQtyDelta)
	assert.Equal(t, int64(350), rec.SellQtyDelta)
	assert.Equal(t, int64(1000), rec.VolumeDelta)
	assert.Equal(t, rec.VolumeDelta, rec.BuyQtyDelta+rec.SellQtyDelta)
	assert.Equal(t, int64(300), rec.NetTradeFlow)
	assert.InDelta(t, 65.0, rec.BuyPercentage, 1e-9)
	assert.InDelta(t, 35.0, rec.SellPercentage, 1e-9)
	assert.InDelta(t, 0.65, rec.BuyIntensity, 1e-9)
	assert.InDelta(t, 30.0, rec.FlowRate, 1e-9)

	// 3 + 2 + 2, no depth
	assert.Equal(t, 7, rec.BullishScore)
	assert.Equal(t, domain.SignalBullish, rec.Signal)
}

func TestEngine_Rollover(t *testing.T) {
	e := newTestEngine(nil, nil)
	ctx := context.Background()

	_, _ = e.OnQuote(ctx, quote(1, t0, 100, 1, 10000, 8000, 18000))
	rec, err := e.OnQuote(ctx, quote(1, t0.Add(time.Second), 100, 1, 50, 30, 80))
	require.NoError(t, err)

	assert.Equal(t, int64(50), rec.BuyQtyDelta)
	assert.Equal(t, int64(30), rec.SellQtyDelta)
	assert.Equal(t, int64(80), rec.VolumeDelta)
	assert.True(t, rec.Rollover)
	assert.Equal(t, uint64(1), e.metrics.Snapshot().Rollovers)

	// the next snapshot measures from the new baseline
	rec, _ = e.OnQuote(ctx, quote(1, t0.Add(2*time.Second), 100, 1, 70, 30, 100))
	assert.Equal(t, int64(20), rec.BuyQtyDelta)
	assert.False(t, rec.Rollover)
}

func TestEngine_HistoryCapacity(t *testing.T) {
	e := newTestEngine(nil, nil)
	ctx := context.Background()

	for i := 0; i < DefaultHistoryCapacity+5; i++ {
		_, _ = e.OnQuote(ctx, quote(1, t0.Add(time.Duration(i)*time.Second), 100, 1, int64(i), 0, int64(i)))
	}

	hist := e.History(1)
	require.Len(t, hist, DefaultHistoryCapacity)
	assert.Equal(t, int64(5), hist[0].CumulativeBuy, "oldest five evicted first")
	assert.Equal(t, int64(DefaultHistoryCapacity+4), hist[len(hist)-1].CumulativeBuy)
}

func TestEngine_SinkReceivesRows(t *testing.T) {
	sink := &memSink{}
	e := newTestEngine(sink, nil)
	ctx := context.Background()

	_, _ = e.OnQuote(ctx, quote(7, t0, 100, 10, 100, 50, 150))
	_, _ = e.OnQuote(ctx, quote(7, t0.Add(time.Second), 101, 10, 120, 50, 170))

	require.Len(t, sink.rows, 2)
	row := sink.rows[1]
	assert.Equal(t, uint32(7), row.SecurityID)
	assert.Equal(t, int64(120), row.BuyVolume)
	assert.Equal(t, int64(170), row.Volume)
	assert.Equal(t, int64(10), row.BuyInitiated)
	assert.Equal(t, int64(10), row.TickDelta)
	assert.True(t, row.Timestamp.Equal(t0.Add(time.Second)))
}

func TestEngine_SinkErrorKeepsState(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	e := newTestEngine(sink, nil)

	_, err := e.OnQuote(context.Background(), quote(1, t0, 100, 1, 1, 1, 2))
	require.Error(t, err)
	assert.Len(t, e.History(1), 1)
	assert.Equal(t, uint64(1), e.metrics.Snapshot().SinkErrors)
}

func TestEngine_AlertsOnSignalChange(t *testing.T) {
	pub := &memPublisher{}
	e := newTestEngine(nil, pub)
	ctx := context.Background()

	_, _ = e.OnQuote(ctx, quote(1, t0, 100, 1, 0, 0, 0))
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(time.Second), 100, 1, 100, 0, 100))    // bullish
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(2*time.Second), 100, 1, 200, 0, 200))  // still bullish
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(3*time.Second), 100, 1, 200, 90, 290)) // bearish

	require.Len(t, pub.alerts, 2)
	assert.Equal(t, domain.SignalBullish, pub.alerts[0].Signal)
	assert.Equal(t, domain.SignalNeutral, pub.alerts[0].Previous)
	assert.Equal(t, domain.SignalBearish, pub.alerts[1].Signal)
	assert.Len(t, pub.flows, 4)
}

func TestEngine_DepthAttachedWhileFresh(t *testing.T) {
	e := newTestEngine(nil, nil)
	e.cfg.MaxDepthAge = 30 * time.Second
	now := t0
	e.SetClock(func() time.Time { return now })
	ctx := context.Background()

	e.UpdateDepth(domain.DepthSnapshot{
		SecurityID: 1,
		Timestamp:  t0,
		Bids:       []domain.DepthLevel{{Price: decimal.NewFromInt(100), Quantity: 180}},
		Asks:       []domain.DepthLevel{{Price: decimal.NewFromInt(101), Quantity: 100}},
	})

	_, _ = e.OnQuote(ctx, quote(1, t0, 100, 1, 0, 0, 0))
	rec, _ := e.OnQuote(ctx, quote(1, t0.Add(time.Second), 100, 1, 650, 350, 1000))
	require.NotNil(t, rec.Depth)
	assert.InDelta(t, 1.8, rec.ImbalanceRatio(), 1e-9)
	// 3 + 2 + 2 + 1 (imbalance)
	assert.Equal(t, 8, rec.BullishScore)

	now = t0.Add(time.Minute)
	rec, _ = e.OnQuote(ctx, quote(1, t0.Add(2*time.Second), 100, 1, 650, 350, 1000))
	assert.Nil(t, rec.Depth, "stale depth is ignored")
	assert.Equal(t, domain.NeutralImbalance, rec.ImbalanceRatio())
}

func TestEngine_GetLatest(t *testing.T) {
	e := newTestEngine(nil, nil)

	_, err := e.GetLatest(1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_ = e.OnEvent(context.Background(), &event.OIEvent{BaseEvent: event.BaseEvent{SecurityID: 1}, OpenInterest: 10})
	_, err = e.GetLatest(1)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no quote seen yet")

	_, _ = e.OnQuote(context.Background(), quote(1, t0, 100, 1, 10, 5, 15))
	live, err := e.GetLatest(1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), live.Quote.BuyQty)
	assert.Equal(t, int64(10), live.OpenInterest)
	assert.Equal(t, live.Quote.Timestamp, live.Record.Timestamp)
}

func TestEngine_OnEventQuoteTimestamp(t *testing.T) {
	e := newTestEngine(nil, nil)
	now := t0.Add(time.Hour)

	ev := event.AcquireQuoteEvent()
	ev.SecurityID = 3
	ev.LTP = 100
	require.NoError(t, e.OnEvent(context.Background(), ev))

	live, err := e.GetLatest(3)
	require.NoError(t, err)
	assert.True(t, live.Quote.Timestamp.Equal(now), "missing trade time falls back to the engine clock")

	ev = event.AcquireQuoteEvent()
	ev.SecurityID = 3
	ev.LTT = uint32(t0.Unix())
	require.NoError(t, e.OnEvent(context.Background(), ev))
	live, _ = e.GetLatest(3)
	assert.True(t, live.Quote.Timestamp.Equal(t0))
}

func TestEngine_TickerUpdatesLivePrice(t *testing.T) {
	e := newTestEngine(nil, nil)
	_, _ = e.OnQuote(context.Background(), quote(1, t0, 100, 1, 0, 0, 0))

	require.NoError(t, e.OnEvent(context.Background(), &event.TickerEvent{BaseEvent: event.BaseEvent{SecurityID: 1}, LTP: 102.5}))

	live, _ := e.GetLatest(1)
	assert.Equal(t, "102.5", live.TickerLTP.String())
	assert.Len(t, e.History(1), 1, "ticker frames do not produce records")
}

func TestEngine_GetSummary(t *testing.T) {
	e := newTestEngine(nil, nil)
	now := t0.Add(10 * time.Minute)
	e.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := e.GetSummary(1, 30)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// outside a 5 minute window
	_, _ = e.OnQuote(ctx, quote(1, t0, 100, 1, 0, 0, 0))
	// inside: one bullish, then two bearish
	_, _ = e.OnQuote(ctx, quote(1, now.Add(-4*time.Minute), 100, 1, 100, 0, 100))
	_, _ = e.OnQuote(ctx, quote(1, now.Add(-3*time.Minute), 100, 1, 100, 100, 200))
	_, _ = e.OnQuote(ctx, quote(1, now.Add(-2*time.Minute), 100, 1, 100, 200, 300))

	sum, err := e.GetSummary(1, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.DataPoints)
	assert.Equal(t, int64(-100), sum.TotalNetTradeFlow)
	assert.Equal(t, 1, sum.SignalDistribution[domain.SignalBullish])
	assert.Equal(t, 2, sum.SignalDistribution[domain.SignalBearish])
	assert.Equal(t, 0, sum.SignalDistribution[domain.SignalNeutral])
	assert.Equal(t, domain.SignalBearish, sum.DominantSignal)
	assert.InDelta(t, 1.0, sum.AvgImbalanceRatio, 1e-9)
	assert.InDelta(t, 100.0/3, sum.AvgBuyPercentage, 1e-9)

	_, err = e.GetSummary(1, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no record in the last minute")
}

func TestEngine_GetSummaryTieBreak(t *testing.T) {
	e := newTestEngine(nil, nil)
	now := t0.Add(time.Minute)
	e.SetClock(func() time.Time { return now })
	ctx := context.Background()

	// neutral, bullish, bearish, bearish, bullish: bearish reaches 2 first
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(1*time.Second), 100, 1, 0, 0, 0))
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(2*time.Second), 100, 1, 100, 0, 100))
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(3*time.Second), 100, 1, 100, 100, 200))
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(4*time.Second), 100, 1, 100, 200, 300))
	_, _ = e.OnQuote(ctx, quote(1, t0.Add(5*time.Second), 100, 1, 200, 200, 400))

	sum, err := e.GetSummary(1, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.SignalDistribution[domain.SignalBullish])
	assert.Equal(t, 2, sum.SignalDistribution[domain.SignalBearish])
	assert.Equal(t, domain.SignalBearish, sum.DominantSignal)
}

func TestEngine_Reset(t *testing.T) {
	e := newTestEngine(nil, nil)
	ctx := context.Background()

	_, _ = e.OnQuote(ctx, quote(1, t0, 100, 1, 10000, 0, 10000))
	_, _ = e.OnQuote(ctx, quote(2, t0, 100, 1, 10, 0, 10))

	assert.True(t, e.Reset(1))
	assert.False(t, e.Reset(99))
	assert.Empty(t, e.History(1))
	_, err := e.GetLatest(1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// no previous snapshot after reset: first-record rules again
	rec, _ := e.OnQuote(ctx, quote(1, t0.Add(time.Second), 90, 1, 50, 0, 50))
	assert.Equal(t, int64(0), rec.BuyQtyDelta)
	assert.Equal(t, int64(0), rec.TickDelta)
	assert.False(t, rec.Rollover)

	assert.Equal(t, 2, e.ResetAll())
	assert.Empty(t, e.AllHistory())
	assert.Empty(t, e.Securities())
}

func TestEngine_ConcurrentReadsAndResets(t *testing.T) {
	e := newTestEngine(&memSink{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_, _ = e.OnQuote(ctx, quote(uint32(i%3), t0.Add(time.Duration(i)*time.Millisecond), float64(100+i%5), 1, int64(i), int64(i/2), int64(i+i/2)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			for _, rec := range e.History(uint32(i % 3)) {
				if rec.BuyQtyDelta < 0 || rec.SellQtyDelta < 0 {
					t.Errorf("negative delta observed: %+v", rec)
					return
				}
			}
			e.GetLatest(uint32(i % 3))
			e.GetSummary(uint32(i%3), 60)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			e.Reset(uint32(i % 3))
			time.Sleep(time.Millisecond)
		}
	}()
	wg.Wait()

	for _, id := range e.Securities() {
		assert.LessOrEqual(t, len(e.History(id)), DefaultHistoryCapacity)
	}
}

func TestEngine_RunDrainsQueueOnShutdown(t *testing.T) {
	e := newTestEngine(nil, nil)
	q := event.NewQueue(16)
	for i := uint32(1); i <= 5; i++ {
		ev := event.AcquireQuoteEvent()
		ev.SecurityID = i
		ev.LTP = 100
		q.Push(ev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx, q)

	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, e.Securities())
	assert.Equal(t, uint64(5), e.metrics.Snapshot().EventsProcessed)
}

func TestEngine_RunProcessesInOrder(t *testing.T) {
	e := newTestEngine(nil, nil)
	q := event.NewQueue(16)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx, q)
		close(done)
	}()

	for i := 0; i < 4; i++ {
		ev := event.AcquireQuoteEvent()
		ev.SecurityID = 1
		ev.LTP = float32(100 + i)
		ev.LTQ = 1
		ev.LTT = uint32(t0.Unix()) + uint32(i)
		q.Push(ev)
	}
	require.Eventually(t, func() bool { return len(e.History(1)) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	for _, rec := range e.History(1)[1:] {
		assert.Equal(t, int64(1), rec.BuyInitiated, "rising prices in order")
	}
}

func TestEngine_DumpState(t *testing.T) {
	e := newTestEngine(nil, nil)
	_, _ = e.OnQuote(context.Background(), quote(1, t0, 100, 1, 10, 5, 15))

	file := filepath.Join(t.TempDir(), "dump.json")
	e.DumpState(file)

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	var dump struct {
		States map[string]domain.LiveState `json:"states"`
	}
	require.NoError(t, json.Unmarshal(b, &dump))
	assert.Contains(t, dump.States, "1")
}
