package dhan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"orderflow_go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quoteBody = `{
  "status": "success",
  "data": {
    "NSE_FNO": {
      "53216": {
        "last_price": 101.5,
        "depth": {
          "buy":  [{"quantity": 300, "orders": 4, "price": 101.45}, {"quantity": 150, "orders": 2, "price": 101.4}],
          "sell": [{"quantity": 100, "orders": 1, "price": 101.55}]
        }
      }
    }
  }
}`

func TestClient_FetchDepth(t *testing.T) {
	var gotBody map[string][]uint32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/marketfeed/quote", r.URL.Path)
		assert.Equal(t, "token", r.Header.Get("access-token"))
		assert.Equal(t, "1100", r.Header.Get("client-id"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(quoteBody))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "1100", "token", 100)
	at := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	snaps, err := c.FetchDepth(context.Background(), map[string][]uint32{domain.SegmentNSEFNO: {53216}})
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	assert.Equal(t, map[string][]uint32{"NSE_FNO": {53216}}, gotBody)

	s := snaps[0]
	assert.Equal(t, uint32(53216), s.SecurityID)
	assert.Equal(t, "NSE_FNO", s.Segment)
	assert.True(t, s.Timestamp.Equal(at))
	require.Len(t, s.Bids, 2)
	assert.Equal(t, int64(300), s.Bids[0].Quantity)
	assert.Equal(t, "101.45", s.Bids[0].Price.String())
	assert.InDelta(t, 4.5, s.ImbalanceRatio(), 1e-9)
}

func TestClient_FetchDepthErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retriable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			c := NewClient(ts.URL, "1100", "token", 100)
			_, err := c.FetchDepth(context.Background(), map[string][]uint32{"NSE_EQ": {1333}})
			require.Error(t, err)
			assert.Equal(t, tt.retriable, domain.IsRetriable(err))
		})
	}
}

func TestClient_FetchDepthEmptyRequest(t *testing.T) {
	c := NewClient("http://unused", "1100", "token", 1)
	snaps, err := c.FetchDepth(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

type fakeDepthSource struct {
	mu    sync.Mutex
	calls []map[string][]uint32
	err   error
}

func (f *fakeDepthSource) FetchDepth(_ context.Context, req map[string][]uint32) ([]domain.DepthSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.DepthSnapshot
	for seg, ids := range req {
		for _, id := range ids {
			out = append(out, domain.DepthSnapshot{SecurityID: id, Segment: seg})
		}
	}
	return out, nil
}

type depthRecorder struct {
	mu  sync.Mutex
	ids []uint32
}

func (r *depthRecorder) UpdateDepth(snap domain.DepthSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, snap.SecurityID)
}

func TestDepthPoller_PollForwardsSnapshots(t *testing.T) {
	src := &fakeDepthSource{}
	rec := &depthRecorder{}
	instruments := []domain.Instrument{
		{SecurityID: 1, ExchangeSegment: domain.SegmentNSEFNO},
		{SecurityID: 2, ExchangeSegment: domain.SegmentMCXComm},
		{SecurityID: 3, ExchangeSegment: domain.SegmentNSEFNO},
	}

	p := NewDepthPoller(src, rec, instruments, time.Hour, nil)
	require.NoError(t, p.poll(context.Background()))

	require.Len(t, src.calls, 1)
	assert.Equal(t, []uint32{1, 3}, src.calls[0][domain.SegmentNSEFNO])

	sort.Slice(rec.ids, func(i, j int) bool { return rec.ids[i] < rec.ids[j] })
	assert.Equal(t, []uint32{1, 2, 3}, rec.ids)
}

func TestGroupBySegment_SplitsAtLimit(t *testing.T) {
	groups := groupBySegment(makeInstruments(5), 2)
	require.Len(t, groups, 3)
	assert.Len(t, groups[2][domain.SegmentNSEFNO], 1)
}

func TestDepthPoller_StartStop(t *testing.T) {
	src := &fakeDepthSource{err: domain.NewNetworkError("quote", assert.AnError)}
	p := NewDepthPoller(src, &depthRecorder{}, makeInstruments(1), 10*time.Millisecond, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.calls) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	p.Stop()
}
