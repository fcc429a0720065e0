package dhan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/infra"
)

// maxDepthPerRequest is the endpoint's instrument limit per call.
const maxDepthPerRequest = 1000

// DepthUpdater receives fetched depth snapshots.
type DepthUpdater interface {
	UpdateDepth(snap domain.DepthSnapshot)
}

// DepthPoller periodically fetches depth for every instrument and forwards it.
type DepthPoller struct {
	source       domain.DepthSource
	target       DepthUpdater
	requests     []map[string][]uint32
	pollInterval time.Duration
	metrics      *infra.Metrics
	logger       *slog.Logger
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewDepthPoller groups instruments into requests of at most maxDepthPerRequest.
func NewDepthPoller(source domain.DepthSource, target DepthUpdater, instruments []domain.Instrument, pollInterval time.Duration, metrics *infra.Metrics) *DepthPoller {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &DepthPoller{
		source:       source,
		target:       target,
		requests:     groupBySegment(instruments, maxDepthPerRequest),
		pollInterval: pollInterval,
		metrics:      metrics,
		logger:       slog.Default().With("module", "depth_poller"),
	}
}

func groupBySegment(instruments []domain.Instrument, limit int) []map[string][]uint32 {
	var (
		out   []map[string][]uint32
		cur   map[string][]uint32
		count int
	)
	for _, inst := range instruments {
		if cur == nil || count == limit {
			cur = make(map[string][]uint32)
			out = append(out, cur)
			count = 0
		}
		cur[inst.ExchangeSegment] = append(cur[inst.ExchangeSegment], inst.SecurityID)
		count++
	}
	return out
}

// Start fetches once immediately, then on every tick until Stop or ctx ends.
func (p *DepthPoller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.poll(ctx); err != nil {
		p.logger.Warn("Initial depth fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Depth polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Depth polling stopped")
				return
			case <-ticker.C:
				if err := p.poll(ctx); err != nil {
					p.logger.Warn("Depth fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// poll fetches every request group. The first error is returned after all
// groups were attempted.
func (p *DepthPoller) poll(ctx context.Context) error {
	var firstErr error
	for _, req := range p.requests {
		snaps, err := p.source.FetchDepth(ctx, req)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordDepthPollError()
			}
			if firstErr == nil {
				firstErr = err
			}
			if !domain.IsRetriable(err) && ctx.Err() == nil {
				p.logger.Error("Depth request rejected", slog.Any("error", err))
			}
			continue
		}
		for _, snap := range snaps {
			p.target.UpdateDepth(snap)
		}
	}
	return firstErr
}

// Stop stops the polling
func (p *DepthPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
