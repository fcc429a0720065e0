package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"
	"orderflow_go/internal/strategy"
)

// Config holds the engine settings.
type Config struct {
	HistoryCapacity      int
	MaxDepthAge          time.Duration // depth older than this is ignored; 0 keeps it forever
	LargeOrderMultiplier float64
	DumpFile             string
}

// ConfigFrom maps the application config to engine settings.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		HistoryCapacity:      cfg.Engine.HistoryCapacity,
		MaxDepthAge:          time.Duration(cfg.Engine.MaxDepthAgeSec) * time.Second,
		LargeOrderMultiplier: cfg.Depth.LargeOrderMultiplier,
		DumpFile:             cfg.Engine.DumpFile,
	}
}

// Engine turns successive quote snapshots into flow records. Mutations of one
// instrument are serialized by its lock, so readers never observe a partially
// written record or a ring mid-eviction.
type Engine struct {
	cfg       Config
	store     Store
	scorer    strategy.Scorer
	sink      domain.FlowSink
	publisher domain.FlowPublisher
	metrics   *infra.Metrics
	clock     func() time.Time
	logger    *slog.Logger
}

// NewEngine creates an engine. sink, publisher and metrics may be nil.
func NewEngine(cfg Config, scorer strategy.Scorer, sink domain.FlowSink, publisher domain.FlowPublisher, metrics *infra.Metrics) *Engine {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.DumpFile == "" {
		cfg.DumpFile = "panic_dump.json"
	}
	if scorer == nil {
		scorer = strategy.DefaultScoringTable()
	}
	return &Engine{
		cfg:       cfg,
		store:     NewMemoryStore(cfg.HistoryCapacity),
		scorer:    scorer,
		sink:      sink,
		publisher: publisher,
		metrics:   metrics,
		clock:     time.Now,
		logger:    slog.Default().With("module", "engine"),
	}
}

// SetClock replaces the wall clock (tests, replay).
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Run consumes the queue in arrival order. This MUST be run in a single goroutine.
// When ctx ends, the events still queued are processed before Run returns.
func (e *Engine) Run(ctx context.Context, q *event.Queue) {
	e.logger.Info("Engine started")

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			e.DumpState(e.cfg.DumpFile)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	// sink writes of drained events must outlive the cancelled context
	work := context.WithoutCancel(ctx)
	for {
		ev, ok := q.Pop(ctx)
		if !ok {
			break
		}
		e.process(work, ev)
	}

	drained := q.Drain()
	for _, ev := range drained {
		e.process(work, ev)
	}
	e.logger.Info("Engine stopped", slog.Int("drained", len(drained)))
}

func (e *Engine) process(ctx context.Context, ev event.Event) {
	start := time.Now()
	if err := e.OnEvent(ctx, ev); err != nil {
		e.logger.Warn("Event processing failed",
			slog.Uint64("security_id", uint64(ev.GetSecurityID())),
			slog.Any("error", err),
		)
	}
	if e.metrics != nil {
		e.metrics.RecordEvent(time.Since(start).Nanoseconds())
	}
}

// OnEvent applies one decoded feed event and returns it to its pool.
// Quotes produce a flow record; ticker and OI events only refresh live state.
func (e *Engine) OnEvent(ctx context.Context, ev event.Event) error {
	defer event.Release(ev)

	switch ev := ev.(type) {
	case *event.QuoteEvent:
		_, err := e.OnQuote(ctx, ev.Snapshot(e.clock()))
		return err
	case *event.TickerEvent:
		price := ev.Price()
		e.withState(ev.SecurityID, func(st *InstrumentState) {
			st.live.TickerLTP = price
			st.live.UpdatedAt = e.clock()
		})
	case *event.OIEvent:
		oi := int64(ev.OpenInterest)
		e.withState(ev.SecurityID, func(st *InstrumentState) {
			st.live.OpenInterest = oi
			st.live.UpdatedAt = e.clock()
		})
	default:
		e.logger.Warn("Unknown event type", slog.Any("kind", ev.GetKind()))
	}
	return nil
}

// withState runs fn under the lock of the live state for id. A state evicted
// by a concurrent Reset is replaced by a fresh one.
func (e *Engine) withState(id uint32, fn func(st *InstrumentState)) {
	for {
		st := e.store.Upsert(id)
		st.mu.Lock()
		if st.evicted {
			st.mu.Unlock()
			continue
		}
		fn(st)
		st.mu.Unlock()
		if e.metrics != nil {
			e.metrics.SetTrackedInstruments(e.store.Len())
		}
		return
	}
}

// OnQuote processes one snapshot: deltas, tick rule, scoring, history append.
// The snapshot is then forwarded to the sink; a sink failure is returned but
// the in-memory state has already advanced.
func (e *Engine) OnQuote(ctx context.Context, q domain.Quote) (domain.FlowRecord, error) {
	var (
		rec   domain.FlowRecord
		alert *domain.FlowAlert
	)
	e.withState(q.SecurityID, func(st *InstrumentState) {
		rec, alert = e.apply(st, q)
	})

	if e.metrics != nil {
		e.metrics.RecordAppended()
		if rec.Rollover {
			e.metrics.RecordRollover()
		}
	}
	if rec.Rollover {
		e.logger.Info("Cumulative counter rollover",
			slog.Uint64("security_id", uint64(q.SecurityID)),
			slog.Int64("buy_qty", q.BuyQty),
			slog.Int64("sell_qty", q.SellQty),
			slog.Int64("volume", q.Volume),
		)
	}

	if alert != nil {
		e.raise(*alert)
	}
	if e.publisher != nil {
		if err := e.publisher.PublishFlow(rec); err != nil {
			e.logger.Debug("Flow publish failed", slog.Any("error", err))
		}
	}

	if e.sink != nil {
		if err := e.sink.Append(ctx, domain.NewFlowRow(q, rec)); err != nil {
			if e.metrics != nil {
				e.metrics.RecordSinkError()
			}
			return rec, fmt.Errorf("append snapshot %d: %w", q.SecurityID, err)
		}
	}
	return rec, nil
}

func (e *Engine) raise(alert domain.FlowAlert) {
	e.logger.Warn("FLOW_SIGNAL_CHANGED",
		slog.Uint64("security_id", uint64(alert.SecurityID)),
		slog.String("signal", string(alert.Signal)),
		slog.String("previous", string(alert.Previous)),
		slog.Int64("net_trade_flow", alert.NetTradeFlow),
		slog.Float64("buy_pct", alert.BuyPercentage),
	)
	if e.metrics != nil {
		e.metrics.RecordAlert()
	}
	if e.publisher != nil {
		if err := e.publisher.PublishAlert(alert); err != nil {
			e.logger.Debug("Alert publish failed", slog.Any("error", err))
		}
	}
}

// cumulativeDelta returns cur-prev, or cur itself when the counter restarted.
func cumulativeDelta(cur, prev int64) (delta int64, rollover bool) {
	if cur < prev {
		return cur, true
	}
	return cur - prev, false
}

// apply must be called with st.mu held.
func (e *Engine) apply(st *InstrumentState, q domain.Quote) (domain.FlowRecord, *domain.FlowAlert) {
	rec := domain.FlowRecord{
		SecurityID:     q.SecurityID,
		Timestamp:      q.Timestamp,
		LTP:            q.LTP,
		LastTradedQty:  q.LTQ,
		CumulativeBuy:  q.BuyQty,
		CumulativeSell: q.SellQty,
	}

	if prev := st.prev; prev != nil {
		var rb, rs, rv bool
		rec.BuyQtyDelta, rb = cumulativeDelta(q.BuyQty, prev.BuyQty)
		rec.SellQtyDelta, rs = cumulativeDelta(q.SellQty, prev.SellQty)
		rec.VolumeDelta, rv = cumulativeDelta(q.Volume, prev.Volume)
		rec.Rollover = rb || rs || rv
	}

	rec.IntervalVolume = rec.BuyQtyDelta + rec.SellQtyDelta
	rec.NetTradeFlow = rec.BuyQtyDelta - rec.SellQtyDelta

	rec.BuyPercentage, rec.SellPercentage = 50.0, 50.0
	if rec.IntervalVolume > 0 {
		rec.BuyPercentage = float64(rec.BuyQtyDelta) / float64(rec.IntervalVolume) * 100
		rec.SellPercentage = 100 - rec.BuyPercentage
	}

	rec.BuyIntensity, rec.SellIntensity = 0.5, 0.5
	if rec.VolumeDelta > 0 {
		rec.BuyIntensity = float64(rec.BuyQtyDelta) / float64(rec.VolumeDelta)
		rec.SellIntensity = float64(rec.SellQtyDelta) / float64(rec.VolumeDelta)
	}

	if st.prev != nil {
		if dt := q.Timestamp.Sub(st.prev.Timestamp).Seconds(); dt > 0 {
			rec.FlowRate = float64(rec.NetTradeFlow) / dt
		}
	}

	// Tick rule
	if st.hasPrice && q.HasPrice() && q.LTQ > 0 {
		switch q.LTP.Cmp(st.prevPrice) {
		case 1:
			rec.BuyInitiated = q.LTQ
		case -1:
			rec.SellInitiated = q.LTQ
		}
	}
	rec.TickDelta = rec.BuyInitiated - rec.SellInitiated

	if d := st.depth; d != nil && (e.cfg.MaxDepthAge <= 0 || e.clock().Sub(d.ObservedAt) <= e.cfg.MaxDepthAge) {
		depth := *d
		rec.Depth = &depth
	}

	in := strategy.FlowInputs{
		NetTradeFlow:   rec.NetTradeFlow,
		BuyPercentage:  rec.BuyPercentage,
		BuyIntensity:   rec.BuyIntensity,
		HasDepth:       rec.Depth != nil,
		ImbalanceRatio: rec.ImbalanceRatio(),
	}
	if rec.Depth != nil {
		in.LargeBidCount = rec.Depth.LargeBidCount
		in.LargeAskCount = rec.Depth.LargeAskCount
	}
	score := e.scorer.Score(in)
	rec.Signal = score.Signal
	rec.BullishScore = score.Bullish
	rec.BearishScore = score.Bearish

	alert := domain.NewFlowAlert(st.lastSignal, rec)
	st.lastSignal = rec.Signal

	st.history.Push(rec)
	snapshot := q
	st.prev = &snapshot
	if q.HasPrice() {
		st.prevPrice = q.LTP
		st.hasPrice = true
	}

	st.live.Quote = q
	st.live.Record = rec
	st.live.UpdatedAt = e.clock()
	st.hasQuote = true

	return rec, alert
}

// UpdateDepth stores secondary order-book metrics for later records.
func (e *Engine) UpdateDepth(snap domain.DepthSnapshot) {
	m := snap.Metrics(e.cfg.LargeOrderMultiplier)
	if m.ObservedAt.IsZero() {
		m.ObservedAt = e.clock()
	}
	e.withState(snap.SecurityID, func(st *InstrumentState) {
		st.depth = &m
	})
}

// Reset clears the history and previous-state pointers of one instrument.
// It reports whether the instrument had any state.
func (e *Engine) Reset(securityID uint32) bool {
	st, ok := e.store.Get(securityID)
	if !ok {
		return false
	}
	e.evict(st)
	return true
}

func (e *Engine) evict(st *InstrumentState) {
	st.mu.Lock()
	st.evicted = true
	e.store.Evict(st)
	st.mu.Unlock()
	if e.metrics != nil {
		e.metrics.SetTrackedInstruments(e.store.Len())
	}
}

// ResetAll clears every instrument and returns how many were reset.
func (e *Engine) ResetAll() int {
	n := 0
	e.store.Range(func(st *InstrumentState) bool {
		e.evict(st)
		n++
		return true
	})
	e.logger.Info("Engine state reset", slog.Int("instruments", n))
	return n
}

// GetLatest returns a copy of the latest snapshot and record of a security.
// It returns domain.ErrNotFound until a quote has been seen.
func (e *Engine) GetLatest(securityID uint32) (domain.LiveState, error) {
	st, ok := e.store.Get(securityID)
	if !ok {
		return domain.LiveState{}, fmt.Errorf("live state of %d: %w", securityID, domain.ErrNotFound)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.hasQuote || st.evicted {
		return domain.LiveState{}, fmt.Errorf("live state of %d: %w", securityID, domain.ErrNotFound)
	}
	return st.live, nil // Return copy
}

// History returns the in-memory records of a security, oldest first.
func (e *Engine) History(securityID uint32) []domain.FlowRecord {
	st, ok := e.store.Get(securityID)
	if !ok {
		return []domain.FlowRecord{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.Records()
}

// AllHistory returns the records of every instrument.
func (e *Engine) AllHistory() map[uint32][]domain.FlowRecord {
	out := make(map[uint32][]domain.FlowRecord)
	e.store.Range(func(st *InstrumentState) bool {
		st.mu.Lock()
		if st.history.Len() > 0 {
			out[st.securityID] = st.history.Records()
		}
		st.mu.Unlock()
		return true
	})
	return out
}

// Securities returns the ids with live state, ascending.
func (e *Engine) Securities() []uint32 {
	ids := make([]uint32, 0, e.store.Len())
	e.store.Range(func(st *InstrumentState) bool {
		ids = append(ids, st.securityID)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var signalOrder = []domain.Signal{domain.SignalBullish, domain.SignalBearish, domain.SignalNeutral}

// GetSummary aggregates the records newer than lookbackMinutes. It returns
// domain.ErrNotFound when no record falls inside the window.
func (e *Engine) GetSummary(securityID uint32, lookbackMinutes int) (domain.FlowSummary, error) {
	st, ok := e.store.Get(securityID)
	if !ok {
		return domain.FlowSummary{}, fmt.Errorf("summary of %d: %w", securityID, domain.ErrNotFound)
	}
	cutoff := e.clock().Add(-time.Duration(lookbackMinutes) * time.Minute)

	sum := domain.FlowSummary{
		SecurityID:         securityID,
		PeriodMinutes:      lookbackMinutes,
		SignalDistribution: make(map[domain.Signal]int, len(signalOrder)),
	}
	var (
		imbalance float64
		buyPct    float64
		best      int
	)

	st.mu.Lock()
	st.history.Each(func(rec *domain.FlowRecord) {
		if !rec.Timestamp.After(cutoff) {
			return
		}
		sum.DataPoints++
		imbalance += rec.ImbalanceRatio()
		buyPct += rec.BuyPercentage
		sum.TotalNetTradeFlow += rec.NetTradeFlow

		// the first label to reach the maximum count wins ties
		sum.SignalDistribution[rec.Signal]++
		if c := sum.SignalDistribution[rec.Signal]; c > best {
			best = c
			sum.DominantSignal = rec.Signal
		}
	})
	st.mu.Unlock()

	if sum.DataPoints == 0 {
		return domain.FlowSummary{}, fmt.Errorf("summary of %d over %dm: %w", securityID, lookbackMinutes, domain.ErrNotFound)
	}
	for _, s := range signalOrder {
		if _, ok := sum.SignalDistribution[s]; !ok {
			sum.SignalDistribution[s] = 0
		}
	}
	sum.AvgImbalanceRatio = imbalance / float64(sum.DataPoints)
	sum.AvgBuyPercentage = buyPct / float64(sum.DataPoints)
	return sum, nil
}

// DumpState writes the live state of every instrument to a file (for post-mortem).
func (e *Engine) DumpState(filename string) {
	e.logger.Info("Dumping internal state...", slog.String("file", filename))

	states := make(map[uint32]domain.LiveState)
	e.store.Range(func(st *InstrumentState) bool {
		// TryLock: the panicking goroutine may hold an instrument lock
		if st.mu.TryLock() {
			states[st.securityID] = st.live
			st.mu.Unlock()
		}
		return true
	})

	data := struct {
		DumpedAt time.Time                   `json:"dumped_at"`
		States   map[uint32]domain.LiveState `json:"states"`
	}{
		DumpedAt: e.clock(),
		States:   states,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		e.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		e.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
