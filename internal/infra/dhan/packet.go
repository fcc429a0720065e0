package dhan

import (
	"encoding/binary"
	"math"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
)

// Frame sizes include the 8-byte header.
const (
	HeaderSize      = 8
	QuoteFrameSize  = 50
	TickerFrameSize = 16
	OIFrameSize     = 12
)

// Control request codes.
const (
	RequestSubscribeQuote = 17
	RequestDisconnect     = 12
)

// MaxInstrumentsPerMessage is the protocol limit for one subscribe request.
const MaxInstrumentsPerMessage = 100

var segmentCodes = map[string]uint8{
	domain.SegmentIndex:   0,
	domain.SegmentNSEEQ:   1,
	domain.SegmentNSEFNO:  2,
	domain.SegmentNSECurr: 3,
	domain.SegmentBSEEQ:   4,
	domain.SegmentMCXComm: 5,
	domain.SegmentBSECurr: 7,
	domain.SegmentBSEFNO:  8,
}

var segmentNames = func() map[uint8]string {
	m := make(map[uint8]string, len(segmentCodes))
	for name, code := range segmentCodes {
		m[code] = name
	}
	return m
}()

// SegmentCode returns the wire code of an exchange segment name.
func SegmentCode(name string) (uint8, bool) {
	code, ok := segmentCodes[name]
	return code, ok
}

// SegmentName returns the exchange segment name of a wire code, or "" if unknown.
func SegmentName(code uint8) string {
	return segmentNames[code]
}

func putHeader(b []byte, kind event.Kind, seg uint8, securityID uint32) {
	b[0] = byte(kind)
	binary.BigEndian.PutUint16(b[1:3], uint16(len(b)))
	b[3] = seg
	binary.BigEndian.PutUint32(b[4:8], securityID)
}

func putFloat(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// EncodeQuote builds a 50-byte quote frame.
func EncodeQuote(ev *event.QuoteEvent) []byte {
	b := make([]byte, QuoteFrameSize)
	putHeader(b, event.KindQuote, ev.Segment, ev.SecurityID)
	putFloat(b[8:12], ev.LTP)
	binary.BigEndian.PutUint16(b[12:14], uint16(ev.LTQ))
	binary.BigEndian.PutUint32(b[14:18], ev.LTT)
	putFloat(b[18:22], ev.ATP)
	binary.BigEndian.PutUint32(b[22:26], ev.Volume)
	binary.BigEndian.PutUint32(b[26:30], ev.SellQty)
	binary.BigEndian.PutUint32(b[30:34], ev.BuyQty)
	putFloat(b[34:38], ev.Open)
	putFloat(b[38:42], ev.Close)
	putFloat(b[42:46], ev.High)
	putFloat(b[46:50], ev.Low)
	return b
}

// EncodeTicker builds a 16-byte ticker frame.
func EncodeTicker(ev *event.TickerEvent) []byte {
	b := make([]byte, TickerFrameSize)
	putHeader(b, event.KindTicker, ev.Segment, ev.SecurityID)
	putFloat(b[8:12], ev.LTP)
	binary.BigEndian.PutUint32(b[12:16], ev.LTT)
	return b
}

// EncodeOI builds a 12-byte open interest frame.
func EncodeOI(ev *event.OIEvent) []byte {
	b := make([]byte, OIFrameSize)
	putHeader(b, event.KindOI, ev.Segment, ev.SecurityID)
	binary.BigEndian.PutUint32(b[8:12], ev.OpenInterest)
	return b
}

func decodeQuote(base event.BaseEvent, b []byte) *event.QuoteEvent {
	ev := event.AcquireQuoteEvent()
	ev.BaseEvent = base
	ev.LTP = getFloat(b[8:12])
	ev.LTQ = int16(binary.BigEndian.Uint16(b[12:14]))
	ev.LTT = binary.BigEndian.Uint32(b[14:18])
	ev.ATP = getFloat(b[18:22])
	ev.Volume = binary.BigEndian.Uint32(b[22:26])
	ev.SellQty = binary.BigEndian.Uint32(b[26:30])
	ev.BuyQty = binary.BigEndian.Uint32(b[30:34])
	ev.Open = getFloat(b[34:38])
	ev.Close = getFloat(b[38:42])
	ev.High = getFloat(b[42:46])
	ev.Low = getFloat(b[46:50])
	return ev
}

func decodeTicker(base event.BaseEvent, b []byte) *event.TickerEvent {
	ev := event.AcquireTickerEvent()
	ev.BaseEvent = base
	ev.LTP = getFloat(b[8:12])
	ev.LTT = binary.BigEndian.Uint32(b[12:16])
	return ev
}

func decodeOI(base event.BaseEvent, b []byte) *event.OIEvent {
	return &event.OIEvent{
		BaseEvent:    base,
		OpenInterest: binary.BigEndian.Uint32(b[8:12]),
	}
}
