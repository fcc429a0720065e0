package event

import (
	"sync"
)

// Quote frames dominate the feed, so quote and ticker events are pooled.
//
// Usage:
//
//	ev := AcquireQuoteEvent()
//	ev.SecurityID = 53216
//	// ... use event ...
//	ReleaseQuoteEvent(ev)  // Return to pool after processing
var quotePool = sync.Pool{
	New: func() interface{} {
		return &QuoteEvent{}
	},
}

// AcquireQuoteEvent gets a QuoteEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireQuoteEvent() *QuoteEvent {
	return quotePool.Get().(*QuoteEvent)
}

// ReleaseQuoteEvent returns a QuoteEvent to the pool.
func ReleaseQuoteEvent(ev *QuoteEvent) {
	if ev == nil {
		return
	}
	*ev = QuoteEvent{}
	quotePool.Put(ev)
}

var tickerPool = sync.Pool{
	New: func() interface{} {
		return &TickerEvent{}
	},
}

// AcquireTickerEvent gets a TickerEvent from the pool.
func AcquireTickerEvent() *TickerEvent {
	return tickerPool.Get().(*TickerEvent)
}

// ReleaseTickerEvent returns a TickerEvent to the pool.
func ReleaseTickerEvent(ev *TickerEvent) {
	if ev == nil {
		return
	}
	*ev = TickerEvent{}
	tickerPool.Put(ev)
}

// Release returns a pooled event of any kind. Unpooled kinds are ignored.
func Release(ev Event) {
	switch e := ev.(type) {
	case *QuoteEvent:
		ReleaseQuoteEvent(e)
	case *TickerEvent:
		ReleaseTickerEvent(e)
	}
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	quotes := make([]*QuoteEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		quotes = append(quotes, AcquireQuoteEvent())
	}
	for _, ev := range quotes {
		ReleaseQuoteEvent(ev)
	}

	tickers := make([]*TickerEvent, 0, batchSize/4)
	for i := 0; i < batchSize/4; i++ {
		tickers = append(tickers, AcquireTickerEvent())
	}
	for _, ev := range tickers {
		ReleaseTickerEvent(ev)
	}
}
