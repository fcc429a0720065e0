package nats

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"orderflow_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subj, data})
	return nil
}

func TestPublisher_PublishFlow(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "of")

	rec := domain.FlowRecord{
		SecurityID:   53216,
		Timestamp:    time.Unix(1_700_000_000, 0).UTC(),
		LTP:          decimal.RequireFromString("101.25"),
		NetTradeFlow: 150,
		Signal:       domain.SignalBullish,
	}
	require.NoError(t, p.PublishFlow(rec))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "of.flow.53216", conn.msgs[0].subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &got))
	assert.Equal(t, "BULLISH_FLOW", got["signal"])
	assert.Equal(t, "101.25", got["ltp"])
	assert.EqualValues(t, 150, got["net_trade_flow"])
}

func TestPublisher_PublishAlert(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "")

	require.NoError(t, p.PublishAlert(domain.FlowAlert{
		SecurityID: 7,
		Signal:     domain.SignalBearish,
		Previous:   domain.SignalNeutral,
	}))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "orderflow.alert.7", conn.msgs[0].subject)
	assert.Contains(t, string(conn.msgs[0].data), `"previous":"NEUTRAL_FLOW"`)
}

func TestPublisher_Error(t *testing.T) {
	boom := errors.New("connection closed")
	p := NewPublisher(&fakeConn{err: boom}, "of")
	err := p.PublishFlow(domain.FlowRecord{SecurityID: 1})
	assert.ErrorIs(t, err, boom)
}
