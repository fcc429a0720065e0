package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"orderflow_go/internal/domain"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

type flowParquetRecord struct {
	SecurityID     int64   `parquet:"name=security_id, type=INT64"`
	Timestamp      int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	LTP            float64 `parquet:"name=ltp, type=DOUBLE"`
	LastTradedQty  int64   `parquet:"name=last_traded_qty, type=INT64"`
	CumulativeBuy  int64   `parquet:"name=cumulative_buy_qty, type=INT64"`
	CumulativeSell int64   `parquet:"name=cumulative_sell_qty, type=INT64"`
	BuyQtyDelta    int64   `parquet:"name=buy_qty_delta, type=INT64"`
	SellQtyDelta   int64   `parquet:"name=sell_qty_delta, type=INT64"`
	VolumeDelta    int64   `parquet:"name=volume_delta, type=INT64"`
	NetTradeFlow   int64   `parquet:"name=net_trade_flow, type=INT64"`
	BuyPercentage  float64 `parquet:"name=buy_percentage, type=DOUBLE"`
	BuyIntensity   float64 `parquet:"name=buy_intensity, type=DOUBLE"`
	ImbalanceRatio float64 `parquet:"name=imbalance_ratio, type=DOUBLE"`
	BuyInitiated   int64   `parquet:"name=buy_initiated, type=INT64"`
	SellInitiated  int64   `parquet:"name=sell_initiated, type=INT64"`
	TickDelta      int64   `parquet:"name=tick_delta, type=INT64"`
	Rollover       bool    `parquet:"name=rollover, type=BOOLEAN"`
	Signal         string  `parquet:"name=signal, type=BYTE_ARRAY, convertedtype=UTF8"`
	BullishScore   int32   `parquet:"name=bullish_score, type=INT32"`
	BearishScore   int32   `parquet:"name=bearish_score, type=INT32"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

func toParquet(rec domain.FlowRecord) flowParquetRecord {
	ltp, _ := rec.LTP.Float64()
	return flowParquetRecord{
		SecurityID:     int64(rec.SecurityID),
		Timestamp:      rec.Timestamp.UnixMilli(),
		LTP:            ltp,
		LastTradedQty:  rec.LastTradedQty,
		CumulativeBuy:  rec.CumulativeBuy,
		CumulativeSell: rec.CumulativeSell,
		BuyQtyDelta:    rec.BuyQtyDelta,
		SellQtyDelta:   rec.SellQtyDelta,
		VolumeDelta:    rec.VolumeDelta,
		NetTradeFlow:   rec.NetTradeFlow,
		BuyPercentage:  rec.BuyPercentage,
		BuyIntensity:   rec.BuyIntensity,
		ImbalanceRatio: rec.ImbalanceRatio(),
		BuyInitiated:   rec.BuyInitiated,
		SellInitiated:  rec.SellInitiated,
		TickDelta:      rec.TickDelta,
		Rollover:       rec.Rollover,
		Signal:         string(rec.Signal),
		BullishScore:   int32(rec.BullishScore),
		BearishScore:   int32(rec.BearishScore),
	}
}

// Encode serializes history into one snappy-compressed parquet file,
// ordered by security id and then by record order.
func Encode(history map[uint32][]domain.FlowRecord) ([]byte, int, error) {
	ids := make([]uint32, 0, len(history))
	for id := range history {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(flowParquetRecord), 1)
	if err != nil {
		return nil, 0, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	n := 0
	for _, id := range ids {
		for _, rec := range history[id] {
			if err := pw.Write(toParquet(rec)); err != nil {
				pw.WriteStop()
				return nil, 0, fmt.Errorf("write parquet record: %w", err)
			}
			n++
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), n, nil
}

// WriteHistory writes history to dir as orderflow_<date>_<uuid>.parquet and
// returns the path. Nothing is written when history holds no records.
func WriteHistory(dir string, date time.Time, history map[uint32][]domain.FlowRecord) (string, int, error) {
	data, n, err := Encode(history)
	if err != nil {
		return "", 0, err
	}
	if n == 0 {
		return "", 0, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("create export directory: %w", err)
	}
	name := fmt.Sprintf("orderflow_%s_%s.parquet", date.Format("2006-01-02"), uuid.NewString())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", 0, fmt.Errorf("write export: %w", err)
	}
	return path, n, nil
}
