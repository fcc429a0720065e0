package event

import (
	"time"

	"orderflow_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Kind is the feed message code carried in the first header byte.
type Kind uint8

const (
	KindTicker Kind = 2
	KindQuote  Kind = 4
	KindOI     Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindQuote:
		return "quote"
	case KindOI:
		return "oi"
	default:
		return "unknown"
	}
}

// Event is a decoded feed message.
type Event interface {
	GetSeq() uint64
	GetKind() Kind
	GetSecurityID() uint32
}

// BaseEvent carries the frame header shared by every message.
// Seq is assigned by the decoder in arrival order.
type BaseEvent struct {
	Seq        uint64 `json:"seq"`
	Segment    uint8  `json:"segment"`
	SecurityID uint32 `json:"security_id"`
}

func (e BaseEvent) GetSeq() uint64        { return e.Seq }
func (e BaseEvent) GetSecurityID() uint32 { return e.SecurityID }

// QuoteEvent mirrors the 50-byte quote frame. Field widths follow the wire.
type QuoteEvent struct {
	BaseEvent
	LTP     float32 `json:"ltp"`
	LTQ     int16   `json:"ltq"`
	LTT     uint32  `json:"ltt"` // epoch seconds, 0 if the exchange did not send one
	ATP     float32 `json:"atp"`
	Volume  uint32  `json:"volume"`
	SellQty uint32  `json:"sell_qty"`
	BuyQty  uint32  `json:"buy_qty"`
	Open    float32 `json:"open"`
	Close   float32 `json:"close"`
	High    float32 `json:"high"`
	Low     float32 `json:"low"`
}

func (e *QuoteEvent) GetKind() Kind { return KindQuote }

// Timestamp returns the last trade time, or fallback when the frame carried none.
func (e *QuoteEvent) Timestamp(fallback time.Time) time.Time {
	if e.LTT == 0 {
		return fallback
	}
	return time.Unix(int64(e.LTT), 0)
}

// Snapshot converts the wire event into a domain quote.
func (e *QuoteEvent) Snapshot(fallback time.Time) domain.Quote {
	return domain.Quote{
		SecurityID: e.SecurityID,
		Segment:    e.Segment,
		Timestamp:  e.Timestamp(fallback),
		LTP:        price(e.LTP),
		LTQ:        int64(e.LTQ),
		ATP:        price(e.ATP),
		Volume:     int64(e.Volume),
		BuyQty:     int64(e.BuyQty),
		SellQty:    int64(e.SellQty),
		DayOpen:    price(e.Open),
		DayClose:   price(e.Close),
		DayHigh:    price(e.High),
		DayLow:     price(e.Low),
	}
}

// TickerEvent mirrors the 16-byte ticker frame.
type TickerEvent struct {
	BaseEvent
	LTP float32 `json:"ltp"`
	LTT uint32  `json:"ltt"`
}

func (e *TickerEvent) GetKind() Kind { return KindTicker }

// Price returns the ticker price as a decimal.
func (e *TickerEvent) Price() decimal.Decimal { return price(e.LTP) }

// OIEvent mirrors the 12-byte open interest frame.
type OIEvent struct {
	BaseEvent
	OpenInterest uint32 `json:"open_interest"`
}

func (e *OIEvent) GetKind() Kind { return KindOI }

// float32 prices are rounded to paise so 101.05 does not become 101.0500030517578.
func price(v float32) decimal.Decimal {
	return decimal.NewFromFloat32(v).Round(2)
}
