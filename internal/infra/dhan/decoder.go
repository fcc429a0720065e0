package dhan

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync/atomic"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"
)

// maxCarry bounds the undecoded remainder kept between reads. It is the
// largest length a header can declare, so a partial frame of any size is
// carried and only a stream whose lengths no longer line up can exceed it.
const maxCarry = math.MaxUint16

var minFrameSize = map[event.Kind]int{
	event.KindQuote:  QuoteFrameSize,
	event.KindTicker: TickerFrameSize,
	event.KindOI:     OIFrameSize,
}

// Decoder turns feed bytes into events. It is not safe for concurrent use;
// the feed reader owns it. Counters may be read from any goroutine.
type Decoder struct {
	carry   []byte
	seq     uint64
	metrics *infra.Metrics

	frames atomic.Uint64
	errors atomic.Uint64
}

// NewDecoder creates a decoder. metrics may be nil.
func NewDecoder(metrics *infra.Metrics) *Decoder {
	return &Decoder{metrics: metrics}
}

// Decode appends buf to the carried remainder and decodes every complete
// frame in order. A trailing partial frame is kept for the next call.
// Malformed frames are skipped and counted. The only error is
// domain.ErrFrameDesync, after which the carry has been dropped.
func (d *Decoder) Decode(buf []byte) ([]event.Event, error) {
	data := buf
	if len(d.carry) > 0 {
		data = make([]byte, 0, len(d.carry)+len(buf))
		data = append(data, d.carry...)
		data = append(data, buf...)
	}

	var (
		events  []event.Event
		decoded int
		bad     int
		off     int
	)
	for len(data)-off >= HeaderSize {
		declared := int(binary.BigEndian.Uint16(data[off+1 : off+3]))
		if declared < HeaderSize {
			// boundary unknowable
			d.logSkip(&domain.DecodeError{Code: data[off], Declared: declared, Available: len(data) - off, Reason: "declared length below header size"})
			bad++
			off = len(data)
			break
		}
		if len(data)-off < declared {
			break
		}

		ev, err := d.decodeFrame(data[off : off+declared])
		if err != nil {
			d.logSkip(err)
			bad++
		} else {
			events = append(events, ev)
			decoded++
		}
		off += declared
	}

	d.record(decoded, bad)

	rest := data[off:]
	if len(rest) > maxCarry {
		d.carry = d.carry[:0]
		d.record(0, 1)
		return events, domain.ErrFrameDesync
	}
	d.carry = append(d.carry[:0], rest...)
	return events, nil
}

func (d *Decoder) decodeFrame(frame []byte) (event.Event, error) {
	kind := event.Kind(frame[0])
	need, known := minFrameSize[kind]
	if !known {
		return nil, &domain.DecodeError{Code: frame[0], Declared: len(frame), Available: len(frame), Reason: "unknown message code"}
	}
	if len(frame) < need {
		return nil, &domain.DecodeError{Code: frame[0], Declared: len(frame), Available: len(frame), Reason: "frame shorter than " + kind.String() + " minimum"}
	}

	d.seq++
	base := event.BaseEvent{
		Seq:        d.seq,
		Segment:    frame[3],
		SecurityID: binary.BigEndian.Uint32(frame[4:8]),
	}
	switch kind {
	case event.KindQuote:
		return decodeQuote(base, frame), nil
	case event.KindTicker:
		return decodeTicker(base, frame), nil
	default:
		return decodeOI(base, frame), nil
	}
}

func (d *Decoder) record(decoded, bad int) {
	if decoded > 0 {
		d.frames.Add(uint64(decoded))
	}
	if bad > 0 {
		d.errors.Add(uint64(bad))
	}
	if d.metrics != nil {
		d.metrics.RecordFramesDecoded(decoded)
		d.metrics.RecordDecodeErrors(bad)
	}
}

func (d *Decoder) logSkip(err error) {
	slog.Debug("Feed frame skipped", slog.Any("error", err))
}

// Reset drops any carried partial frame. Called when a connection is replaced.
func (d *Decoder) Reset() {
	d.carry = d.carry[:0]
}

// Pending returns the number of carried bytes.
func (d *Decoder) Pending() int {
	return len(d.carry)
}

// FramesDecoded returns the number of frames decoded successfully.
func (d *Decoder) FramesDecoded() uint64 {
	return d.frames.Load()
}

// DecodeErrors returns the number of frames skipped or dropped.
func (d *Decoder) DecodeErrors() uint64 {
	return d.errors.Load()
}
