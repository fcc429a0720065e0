package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderflow_go/internal/api"
	"orderflow_go/internal/domain"
	"orderflow_go/internal/engine"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"
	"orderflow_go/internal/infra/dhan"
	natspub "orderflow_go/internal/infra/nats"
	"orderflow_go/internal/infra/storage"
	"orderflow_go/internal/service"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "orderflow"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config      *infra.Config
	Metrics     *infra.Metrics
	Registry    *prometheus.Registry
	Storage     storage.Storage
	Instruments []domain.Instrument
	Queue       *event.Queue
	Engine      *engine.Engine
	Aggregator  *service.Aggregator
	Worker      *dhan.Worker
	DepthPoller *dhan.DepthPoller
	Scheduler   *ResetScheduler
	Server      *api.Server

	configPath string
	natsConn   *nats.Conn
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{configPath: configPath}
}

// Initialize loads configuration and wires every component. Nothing is
// started yet; a returned error aborts startup.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping order-flow service...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Metrics
	b.Metrics = infra.GlobalMetrics
	b.Registry = prometheus.NewRegistry()
	if err := b.Metrics.RegisterPrometheus(b.Registry, metricsNamespace); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// 4. Instrument universe
	instruments, err := infra.LoadInstruments(cfg.Instruments.CSVPath)
	if err != nil {
		return err
	}
	b.Instruments = instruments
	slog.Info("✅ Instrument list loaded", slog.Int("instruments", len(instruments)))

	// 5. Initialize Storage (DB)
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))

	// 6. Optional fan-out
	var publisher domain.FlowPublisher
	if cfg.NATS.Enabled {
		nc, err := natspub.Connect(cfg.NATS.URL, cfg.App.Name)
		if err != nil {
			return err
		}
		b.natsConn = nc
		publisher = natspub.NewPublisher(nc, cfg.NATS.SubjectPrefix)
		slog.Info("✅ NATS publisher ready", slog.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	// 7. Engine + dispatch queue
	event.Warmup()
	b.Queue = event.NewQueue(cfg.Feed.QueueSize)
	b.Queue.OnDrop(b.Metrics.RecordDroppedEvent)
	b.Engine = engine.NewEngine(engine.ConfigFrom(cfg), cfg.Engine.Scoring, store, publisher, b.Metrics)
	b.Aggregator = service.NewAggregator(store, cfg.Location())

	// 8. Feed session
	worker, err := dhan.NewWorker(dhan.WorkerConfigFrom(cfg), instruments, b.Queue, b.Metrics)
	if err != nil {
		return err
	}
	b.Worker = worker

	// 9. Depth path (secondary)
	if cfg.Depth.Enabled {
		client := dhan.NewClient(cfg.Depth.RestURL, cfg.Feed.ClientID, cfg.Feed.AccessToken, cfg.Depth.RequestsPerSec)
		interval := time.Duration(cfg.Depth.PollIntervalSec) * time.Second
		b.DepthPoller = dhan.NewDepthPoller(client, b.Engine, instruments, interval, b.Metrics)
	}

	// 10. Daily reset
	if cfg.Reset.Enabled {
		sched, err := NewResetScheduler(cfg.Reset.Time, cfg.Location(), cfg.Reset.ExportDir, b.Engine)
		if err != nil {
			return err
		}
		b.Scheduler = sched
	}

	// 11. Query surface
	handler := api.NewHandler(b.Engine, b.Aggregator, store)
	b.Server = api.NewServer(cfg.Server.Addr, api.NewRouter(handler, b.Registry),
		time.Duration(cfg.Server.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.Server.WriteTimeoutSec)*time.Second)

	return nil
}

// SyncInstruments stores the instrument universe so /api/stocks can serve it.
func (b *Bootstrap) SyncInstruments(ctx context.Context) {
	slog.Info("🔄 Syncing instrument list...")
	if err := b.Storage.UpsertInstruments(ctx, b.Instruments); err != nil {
		slog.Error("Failed to upsert instruments", slog.Any("error", err))
		return
	}
	slog.Info("✨ Instrument sync completed", slog.Int("instruments", len(b.Instruments)))
}

// Run starts every component and blocks until ctx ends. Shutdown order:
// stop the feed, let the engine drain the queue, then close storage.
func (b *Bootstrap) Run(ctx context.Context) error {
	b.SyncInstruments(ctx)

	var wg sync.WaitGroup
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()

	// Start Engine in its own goroutine (The Hotpath Loop)
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Engine.Run(engineCtx, b.Queue)
	}()
	slog.InfoContext(ctx, "✅ Engine (Hotpath) started")

	if err := b.Worker.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	slog.InfoContext(ctx, "✅ Feed worker started", slog.Int("instruments", len(b.Instruments)))

	if b.DepthPoller != nil {
		if err := b.DepthPoller.Start(ctx); err != nil {
			slog.Error("Failed to start depth poller", slog.Any("error", err))
		}
	}

	if b.Scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Scheduler.Run(ctx)
		}()
	}

	serverErr := b.Server.Run(ctx)
	if serverErr != nil {
		slog.Error("HTTP server failed", slog.Any("error", serverErr))
	}

	slog.Info("🛑 Shutting down...")
	b.Worker.Disconnect()
	if b.DepthPoller != nil {
		b.DepthPoller.Stop()
	}
	stopEngine()
	wg.Wait()

	b.Close()
	return serverErr
}

// Close releases external connections.
func (b *Bootstrap) Close() {
	if b.natsConn != nil {
		if err := b.natsConn.Drain(); err != nil {
			slog.Warn("NATS drain failed", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Storage close failed", slog.Any("error", err))
		}
	}
	if b.Metrics == nil {
		return
	}
	snap := b.Metrics.Snapshot()
	slog.Info("📊 Final metrics",
		slog.Uint64("frames_decoded", snap.FramesDecoded),
		slog.Uint64("decode_errors", snap.DecodeErrors),
		slog.Uint64("events_dropped", snap.EventsDropped),
		slog.Uint64("records_appended", snap.RecordsAppended))
}
