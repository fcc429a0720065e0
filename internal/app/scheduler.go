package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/infra/export"
)

// HistoryResetter is the part of the engine the daily reset touches.
type HistoryResetter interface {
	AllHistory() map[uint32][]domain.FlowRecord
	ResetAll() int
}

// ResetScheduler clears in-memory flow state once a day at a wall-clock
// time, exporting it first when an export directory is configured.
type ResetScheduler struct {
	hour, minute int
	loc          *time.Location
	exportDir    string
	target       HistoryResetter
	clock        func() time.Time
	logger       *slog.Logger
}

// NewResetScheduler parses at as HH:MM in loc.
func NewResetScheduler(at string, loc *time.Location, exportDir string, target HistoryResetter) (*ResetScheduler, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, &domain.ConfigError{Field: "reset.time", Err: err}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ResetScheduler{
		hour:      t.Hour(),
		minute:    t.Minute(),
		loc:       loc,
		exportDir: exportDir,
		target:    target,
		clock:     time.Now,
		logger:    slog.Default().With("module", "reset"),
	}, nil
}

// NextRun returns the first reset time strictly after now.
func (s *ResetScheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// Run fires at every reset time until ctx ends.
func (s *ResetScheduler) Run(ctx context.Context) {
	next := s.NextRun(s.clock())
	s.logger.Info("Daily reset scheduled", slog.Time("next", next))

	for {
		timer := time.NewTimer(next.Sub(s.clock()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.Fire(next)
		next = s.NextRun(next)
	}
}

// Fire exports the current history (when configured) and clears all state.
// A failed export is logged and does not block the reset.
func (s *ResetScheduler) Fire(at time.Time) (exported string, cleared int) {
	if s.exportDir != "" {
		path, n, err := export.WriteHistory(s.exportDir, at.In(s.loc), s.target.AllHistory())
		if err != nil {
			s.logger.Error("History export failed", slog.Any("error", fmt.Errorf("export before reset: %w", err)))
		} else if path != "" {
			s.logger.Info("History exported", slog.String("path", path), slog.Int("records", n))
		}
		exported = path
	}

	cleared = s.target.ResetAll()
	s.logger.Info("Cleared order-flow history",
		slog.Int("instruments", cleared), slog.String("at", at.In(s.loc).Format("15:04:05")))
	return exported, cleared
}
