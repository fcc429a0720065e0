package engine

import (
	"sync"

	"orderflow_go/internal/domain"

	"github.com/shopspring/decimal"
)

// InstrumentState is the per-security state machine data. Every field is
// guarded by mu; readers copy what they need while holding it.
type InstrumentState struct {
	mu sync.Mutex

	securityID uint32
	prev       *domain.Quote
	prevPrice  decimal.Decimal
	hasPrice   bool
	history    *FlowRing
	lastSignal domain.Signal
	depth      *domain.DepthMetrics

	live     domain.LiveState
	hasQuote bool

	// set by Reset before the state leaves the store; writers that still
	// hold a reference must fetch a fresh state
	evicted bool
}

func newInstrumentState(id uint32, capacity int) *InstrumentState {
	return &InstrumentState{
		securityID: id,
		history:    NewFlowRing(capacity),
		live:       domain.LiveState{SecurityID: id},
	}
}

// Store owns every InstrumentState of the engine.
type Store interface {
	Get(id uint32) (*InstrumentState, bool)
	// Upsert returns the state for id, creating it when absent.
	Upsert(id uint32) *InstrumentState
	// Evict removes st if it is still the state stored for its id.
	Evict(st *InstrumentState) bool
	// Range calls fn for every state until fn returns false.
	Range(fn func(st *InstrumentState) bool)
	Len() int
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[uint32]*InstrumentState
	capacity int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose states keep capacity records each.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MemoryStore{
		states:   make(map[uint32]*InstrumentState),
		capacity: capacity,
	}
}

func (s *MemoryStore) Get(id uint32) (*InstrumentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st, ok
}

func (s *MemoryStore) Upsert(id uint32) *InstrumentState {
	if st, ok := s.Get(id); ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		return st
	}
	st := newInstrumentState(id, s.capacity)
	s.states[id] = st
	return st
}

func (s *MemoryStore) Evict(st *InstrumentState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.states[st.securityID]; !ok || cur != st {
		return false
	}
	delete(s.states, st.securityID)
	return true
}

func (s *MemoryStore) Range(fn func(st *InstrumentState) bool) {
	s.mu.RLock()
	states := make([]*InstrumentState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	s.mu.RUnlock()

	for _, st := range states {
		if !fn(st) {
			return
		}
	}
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
