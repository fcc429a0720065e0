package engine

import (
	"testing"

	"orderflow_go/internal/domain"
)

func TestFlowRing_FIFO(t *testing.T) {
	r := NewFlowRing(3)
	for i := int64(1); i <= 5; i++ {
		r.Push(domain.FlowRecord{NetTradeFlow: i})
	}

	if r.Len() != 3 {
		t.Fatalf("Expected 3 records, got %d", r.Len())
	}

	got := r.Records()
	for i, want := range []int64{3, 4, 5} {
		if got[i].NetTradeFlow != want {
			t.Errorf("record %d = %d, want %d", i, got[i].NetTradeFlow, want)
		}
	}
}

func TestFlowRing_RecordsIsCopy(t *testing.T) {
	r := NewFlowRing(2)
	r.Push(domain.FlowRecord{NetTradeFlow: 1})

	got := r.Records()
	got[0].NetTradeFlow = 99

	if r.Records()[0].NetTradeFlow != 1 {
		t.Error("Records must not expose the ring buffer")
	}
}

func TestFlowRing_DefaultCapacity(t *testing.T) {
	if c := NewFlowRing(0).Cap(); c != DefaultHistoryCapacity {
		t.Errorf("Expected capacity %d, got %d", DefaultHistoryCapacity, c)
	}
}

func TestMemoryStore_EvictOnlyCurrent(t *testing.T) {
	s := NewMemoryStore(10)
	old := s.Upsert(1)

	if !s.Evict(old) {
		t.Fatal("Expected eviction of the stored state")
	}
	fresh := s.Upsert(1)
	if fresh == old {
		t.Fatal("Upsert after eviction must create a new state")
	}
	if s.Evict(old) {
		t.Error("A stale state must not evict its replacement")
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 state, got %d", s.Len())
	}
}
