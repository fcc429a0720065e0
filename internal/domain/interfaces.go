package domain

import (
	"context"
	"time"
)

// FeedSession defines the interface for the market feed connector
type FeedSession interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// FlowSink is the durable, per-security timestamp-ordered store of processed snapshots.
type FlowSink interface {
	Append(ctx context.Context, row FlowRow) error
	// QueryRange returns rows with from <= Timestamp <= to, earliest first.
	// A zero `to` means no upper bound.
	QueryRange(ctx context.Context, securityID uint32, from, to time.Time) ([]FlowRow, error)
}

// InstrumentRepository persists the subscribed instrument universe.
type InstrumentRepository interface {
	UpsertInstruments(ctx context.Context, instruments []Instrument) error
	AllInstruments(ctx context.Context) ([]Instrument, error)
}

// FlowPublisher fans processed records out to downstream consumers.
type FlowPublisher interface {
	PublishFlow(rec FlowRecord) error
	PublishAlert(alert FlowAlert) error
}

// DepthSource fetches market depth keyed by exchange segment.
type DepthSource interface {
	FetchDepth(ctx context.Context, securities map[string][]uint32) ([]DepthSnapshot, error)
}
