package dhan

import (
	"strconv"

	"orderflow_go/internal/domain"
)

// Subscription is one instrument entry of a subscribe request.
type Subscription struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// SubscribeRequest is the JSON control message sent as a text frame.
type SubscribeRequest struct {
	RequestCode     int            `json:"RequestCode"`
	InstrumentCount int            `json:"InstrumentCount"`
	InstrumentList  []Subscription `json:"InstrumentList"`
}

// BuildSubscribeBatches splits instruments into quote subscribe requests of at
// most batchSize entries. batchSize is clamped to the protocol limit.
func BuildSubscribeBatches(instruments []domain.Instrument, batchSize int) []SubscribeRequest {
	if batchSize <= 0 || batchSize > MaxInstrumentsPerMessage {
		batchSize = MaxInstrumentsPerMessage
	}

	batches := make([]SubscribeRequest, 0, (len(instruments)+batchSize-1)/batchSize)
	for start := 0; start < len(instruments); start += batchSize {
		end := start + batchSize
		if end > len(instruments) {
			end = len(instruments)
		}

		list := make([]Subscription, 0, end-start)
		for _, inst := range instruments[start:end] {
			list = append(list, Subscription{
				ExchangeSegment: inst.ExchangeSegment,
				SecurityID:      strconv.FormatUint(uint64(inst.SecurityID), 10),
			})
		}
		batches = append(batches, SubscribeRequest{
			RequestCode:     RequestSubscribeQuote,
			InstrumentCount: len(list),
			InstrumentList:  list,
		})
	}
	return batches
}
