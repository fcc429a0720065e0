package infra

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"orderflow_go/internal/domain"
)

// routeSegment maps an (exchange, segment) pair from the instrument list to
// the feed's exchange segment. Unlisted pairs are not subscribed.
func routeSegment(exchange, segment string) (string, bool) {
	switch strings.ToUpper(exchange) + "/" + strings.ToUpper(segment) {
	case "NSE/D":
		return domain.SegmentNSEFNO, true
	case "MCX/M":
		return domain.SegmentMCXComm, true
	case "NSE/E":
		return domain.SegmentNSEEQ, true
	case "BSE/E":
		return domain.SegmentBSEEQ, true
	}
	return "", false
}

// LoadInstruments reads the instrument list CSV at path.
func LoadInstruments(path string) ([]domain.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument list: %w", err)
	}
	defer f.Close()
	return ParseInstruments(f)
}

// ParseInstruments reads rows with the header
// exchange,segment,security_id,symbol[,instrument] in any column order.
// Rows that cannot be routed or parsed are skipped; a list with no usable
// rows returns domain.ErrEmptyInstrumentList.
func ParseInstruments(r io.Reader) ([]domain.Instrument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.ErrEmptyInstrumentList
	}
	if err != nil {
		return nil, fmt.Errorf("read instrument header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"exchange", "segment", "security_id"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("instrument list missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	now := time.Now()
	seen := make(map[uint32]struct{})
	var instruments []domain.Instrument
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read instrument list line %d: %w", line, err)
		}

		exchange, segment := field(rec, "exchange"), field(rec, "segment")
		exchSeg, ok := routeSegment(exchange, segment)
		if !ok {
			slog.Debug("Skipping instrument with unsupported segment",
				slog.Int("line", line), slog.String("exchange", exchange), slog.String("segment", segment))
			continue
		}

		id, err := strconv.ParseUint(field(rec, "security_id"), 10, 32)
		if err != nil || id == 0 {
			slog.Warn("Skipping instrument with invalid security_id",
				slog.Int("line", line), slog.String("security_id", field(rec, "security_id")))
			continue
		}
		if _, dup := seen[uint32(id)]; dup {
			continue
		}
		seen[uint32(id)] = struct{}{}

		instruments = append(instruments, domain.Instrument{
			SecurityID:      uint32(id),
			Symbol:          field(rec, "symbol"),
			Exchange:        strings.ToUpper(exchange),
			Segment:         strings.ToUpper(segment),
			ExchangeSegment: exchSeg,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if len(instruments) == 0 {
		return nil, domain.ErrEmptyInstrumentList
	}
	return instruments, nil
}
