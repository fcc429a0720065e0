package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"orderflow_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Aggregator answers historical queries by grouping a security's persisted
// snapshots into clock-aligned time buckets. It reads only the sink, so it
// never contends with ingestion.
type Aggregator struct {
	sink domain.FlowSink
	loc  *time.Location
}

// NewAggregator creates an aggregator aligning buckets in loc (UTC when nil).
func NewAggregator(sink domain.FlowSink, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{sink: sink, loc: loc}
}

// Query buckets every persisted snapshot of the security, earliest first.
func (a *Aggregator) Query(ctx context.Context, securityID uint32, intervalMinutes int) ([]domain.TimeBucket, error) {
	return a.QueryRange(ctx, securityID, intervalMinutes, time.Time{}, time.Time{})
}

// QueryRange buckets the snapshots with from <= timestamp <= to. A zero to
// means no upper bound. An unknown security or empty range yields an empty
// slice; a non-positive interval yields domain.ErrInvalidInterval.
func (a *Aggregator) QueryRange(ctx context.Context, securityID uint32, intervalMinutes int, from, to time.Time) ([]domain.TimeBucket, error) {
	if intervalMinutes <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidInterval, intervalMinutes)
	}

	rows, err := a.sink.QueryRange(ctx, securityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query snapshots of %d: %w", securityID, err)
	}
	return Bucketize(rows, intervalMinutes, a.loc), nil
}

// BucketStart floors ts to a multiple of interval counted from local
// midnight in loc, so a 5 minute interval starts buckets at :00, :05, :10.
func BucketStart(ts time.Time, interval time.Duration, loc *time.Location) time.Time {
	local := ts.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	elapsed := local.Sub(midnight)
	return midnight.Add(elapsed - elapsed%interval)
}

// Bucketize groups rows into aligned buckets. Rows need not be sorted.
// Empty buckets are omitted.
func Bucketize(rows []domain.FlowRow, intervalMinutes int, loc *time.Location) []domain.TimeBucket {
	buckets := []domain.TimeBucket{}
	if len(rows) == 0 || intervalMinutes <= 0 {
		return buckets
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]domain.FlowRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	interval := time.Duration(intervalMinutes) * time.Minute
	begin := 0
	start := BucketStart(sorted[0].Timestamp, interval, loc)
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) {
			next := BucketStart(sorted[i].Timestamp, interval, loc)
			if next.Equal(start) {
				continue
			}
			buckets = append(buckets, buildBucket(sorted[begin:i], start, interval))
			begin, start = i, next
			continue
		}
		buckets = append(buckets, buildBucket(sorted[begin:], start, interval))
	}
	return buckets
}

// edgeDelta is the change of a cumulative field across a bucket. A decrease
// means the counter restarted inside the bucket, so the last value is the volume.
func edgeDelta(first, last int64) int64 {
	if last < first {
		return last
	}
	return last - first
}

func buildBucket(rows []domain.FlowRow, start time.Time, interval time.Duration) domain.TimeBucket {
	b := domain.TimeBucket{
		Start:     start,
		End:       start.Add(interval),
		Label:     start.Format("15:04"),
		Snapshots: len(rows),
		Dominance: domain.DominanceNeutral,
	}

	if len(rows) == 1 {
		p := rows[0].LTP
		b.Open, b.High, b.Low, b.Close = p, p, p, p
		return b
	}

	first, last := rows[0], rows[len(rows)-1]
	b.BuyVolume = edgeDelta(first.BuyVolume, last.BuyVolume)
	b.SellVolume = edgeDelta(first.SellVolume, last.SellVolume)
	b.Delta = b.BuyVolume - b.SellVolume

	seen := false
	for _, r := range rows {
		b.BuyInitiated += r.BuyInitiated
		b.SellInitiated += r.SellInitiated
		b.TickDelta += r.TickDelta

		// zero LTP means no trade yet
		if !r.LTP.IsPositive() {
			continue
		}
		if !seen {
			b.Open, b.High, b.Low = r.LTP, r.LTP, r.LTP
			seen = true
		}
		b.High = decimal.Max(b.High, r.LTP)
		b.Low = decimal.Min(b.Low, r.LTP)
		b.Close = r.LTP
	}

	b.Dominance = domain.DominanceOf(b.TickDelta)
	return b
}
