package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"orderflow_go/internal/domain"

	"github.com/gin-gonic/gin"
)

// FlowReader is the read side of the order-flow engine.
type FlowReader interface {
	GetLatest(securityID uint32) (domain.LiveState, error)
	History(securityID uint32) []domain.FlowRecord
	GetSummary(securityID uint32, lookbackMinutes int) (domain.FlowSummary, error)
}

// BucketQuerier answers time-bucket queries over persisted snapshots.
type BucketQuerier interface {
	Query(ctx context.Context, securityID uint32, intervalMinutes int) ([]domain.TimeBucket, error)
}

const (
	defaultInterval = 5
	defaultLookback = 30
)

type Handler struct {
	flows       FlowReader
	buckets     BucketQuerier
	instruments domain.InstrumentRepository
	logger      *slog.Logger
}

func NewHandler(flows FlowReader, buckets BucketQuerier, instruments domain.InstrumentRepository) *Handler {
	return &Handler{
		flows:       flows,
		buckets:     buckets,
		instruments: instruments,
		logger:      slog.Default().With("module", "api"),
	}
}

func securityID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("security_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid security_id"})
		return 0, false
	}
	return uint32(id), true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// GetDeltaData serves the time buckets of one security.
func (h *Handler) GetDeltaData(c *gin.Context) {
	id, ok := securityID(c)
	if !ok {
		return
	}
	interval, ok := intQuery(c, "interval", defaultInterval)
	if !ok {
		return
	}

	buckets, err := h.buckets.Query(c.Request.Context(), id, interval)
	if errors.Is(err, domain.ErrInvalidInterval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to query buckets", slog.Uint64("security_id", uint64(id)), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (h *Handler) GetLiveData(c *gin.Context) {
	id, ok := securityID(c)
	if !ok {
		return
	}
	live, err := h.flows.GetLatest(id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No live data"})
		return
	}
	if err != nil {
		h.logger.Error("failed to read live state", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, live)
}

func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := securityID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.flows.History(id))
}

func (h *Handler) GetSummary(c *gin.Context) {
	id, ok := securityID(c)
	if !ok {
		return
	}
	lookback, ok := intQuery(c, "lookback", defaultLookback)
	if !ok {
		return
	}
	if lookback <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lookback must be positive"})
		return
	}

	summary, err := h.flows.GetSummary(id, lookback)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	if err != nil {
		h.logger.Error("failed to summarize flow", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetStocks(c *gin.Context) {
	instruments, err := h.instruments.AllInstruments(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load instruments", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if instruments == nil {
		instruments = []domain.Instrument{}
	}
	c.JSON(http.StatusOK, instruments)
}
