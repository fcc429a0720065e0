package domain

import (
	"time"
)

// Exchange segment names used by the feed's subscribe request.
const (
	SegmentIndex   = "IDX_I"
	SegmentNSEEQ   = "NSE_EQ"
	SegmentNSEFNO  = "NSE_FNO"
	SegmentNSECurr = "NSE_CURRENCY"
	SegmentBSEEQ   = "BSE_EQ"
	SegmentMCXComm = "MCX_COMM"
	SegmentBSECurr = "BSE_CURRENCY"
	SegmentBSEFNO  = "BSE_FNO"
)

// Instrument represents metadata for a subscribed security
type Instrument struct {
	SecurityID      uint32    `gorm:"primaryKey;autoIncrement:false" json:"security_id"`
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`                      // "NSE", "MCX"
	Segment         string    `json:"segment"`                       // "D", "M", "E"
	ExchangeSegment string    `json:"exchange_segment" gorm:"index"` // "NSE_FNO"
	IsActive        bool      `json:"is_active" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
