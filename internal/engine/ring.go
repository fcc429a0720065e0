package engine

import (
	"orderflow_go/internal/domain"
)

// DefaultHistoryCapacity is the per-instrument record limit.
const DefaultHistoryCapacity = 1000

// FlowRing is a fixed-size FIFO of flow records. When full, the oldest
// record is overwritten. Not safe for concurrent use; InstrumentState guards it.
type FlowRing struct {
	buf   []domain.FlowRecord
	head  int // oldest record when full
	count int
}

// NewFlowRing allocates a ring of the given capacity once.
func NewFlowRing(capacity int) *FlowRing {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &FlowRing{buf: make([]domain.FlowRecord, capacity)}
}

// Push appends rec, evicting the oldest record when the ring is full.
func (r *FlowRing) Push(rec domain.FlowRecord) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = rec
		r.count++
		return
	}
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of stored records.
func (r *FlowRing) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *FlowRing) Cap() int { return len(r.buf) }

// Records returns a copy of the stored records, oldest first.
func (r *FlowRing) Records() []domain.FlowRecord {
	out := make([]domain.FlowRecord, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Each calls fn for every record, oldest first, without copying the ring.
func (r *FlowRing) Each(fn func(rec *domain.FlowRecord)) {
	for i := 0; i < r.count; i++ {
		fn(&r.buf[(r.head+i)%len(r.buf)])
	}
}
