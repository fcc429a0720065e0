package dhan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// WorkerConfig holds the feed connection settings.
type WorkerConfig struct {
	URL             string
	ClientID        string
	AccessToken     string
	Backoff         time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	BatchSize       int
	SubscribePerSec float64
}

// WorkerConfigFrom maps the application config to WorkerConfig.
func WorkerConfigFrom(cfg *infra.Config) WorkerConfig {
	return WorkerConfig{
		URL:             cfg.Feed.WSURL,
		ClientID:        cfg.Feed.ClientID,
		AccessToken:     cfg.Feed.AccessToken,
		Backoff:         time.Duration(cfg.Feed.ReconnectBackoffSec) * time.Second,
		ReadTimeout:     time.Duration(cfg.Feed.ReadTimeoutSec) * time.Second,
		PingInterval:    time.Duration(cfg.Feed.PingIntervalSec) * time.Second,
		BatchSize:       cfg.Feed.SubscribeBatchSize,
		SubscribePerSec: cfg.Feed.SubscribePerSec,
	}
}

// Worker owns the single feed connection. It subscribes on every connect,
// decodes binary frames and pushes events to the dispatch queue.
type Worker struct {
	cfg      WorkerConfig
	batches  []SubscribeRequest
	dispatch func(event.Event) bool
	decoder  *Decoder
	limiter  *rate.Limiter
	metrics  *infra.Metrics
	logger   *slog.Logger

	conn      *websocket.Conn
	sessionID string
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ domain.FeedSession = (*Worker)(nil)

// NewWorker validates the configuration and builds the subscribe batches.
// Configuration problems are returned as *domain.ConfigError.
func NewWorker(cfg WorkerConfig, instruments []domain.Instrument, queue *event.Queue, metrics *infra.Metrics) (*Worker, error) {
	if len(instruments) == 0 {
		return nil, &domain.ConfigError{Field: "instruments", Err: domain.ErrEmptyInstrumentList}
	}
	if err := validateFeedURL(cfg.URL); err != nil {
		return nil, &domain.ConfigError{Field: "feed.ws_url", Err: err}
	}
	if cfg.ClientID == "" || cfg.AccessToken == "" {
		return nil, &domain.ConfigError{Field: "feed.credentials", Err: errors.New("client id and access token are required")}
	}
	if queue == nil {
		return nil, &domain.ConfigError{Field: "queue", Err: errors.New("nil dispatch queue")}
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.SubscribePerSec <= 0 {
		cfg.SubscribePerSec = 5
	}

	return &Worker{
		cfg:      cfg,
		batches:  BuildSubscribeBatches(instruments, cfg.BatchSize),
		dispatch: queue.Push,
		decoder:  NewDecoder(metrics),
		limiter:  rate.NewLimiter(rate.Limit(cfg.SubscribePerSec), 1),
		metrics:  metrics,
		logger:   slog.Default().With("module", "dhan_feed"),
	}, nil
}

func validateFeedURL(raw string) error {
	if raw == "" {
		return errors.New("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q, want ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Decoder exposes the frame decoder counters.
func (w *Worker) Decoder() *Decoder {
	return w.decoder
}

// Connect starts the connection loop and returns immediately.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

// connectionLoop dials, reads until failure, then waits the fixed backoff.
// Retries are unbounded. A panic ends only the current session.
func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			w.logger.Info("Feed connection loop stopped")
			return
		}

		err := w.runSession(ctx)

		if ctx.Err() != nil {
			w.logger.Info("Feed connection loop stopped")
			return
		}

		w.logger.Warn("Feed connection lost, reconnecting",
			slog.Any("error", err),
			slog.Duration("backoff", w.cfg.Backoff),
		)
		if w.metrics != nil {
			w.metrics.RecordReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.Backoff):
		}
	}
}

// runSession serves one connection from dial to failure.
func (w *Worker) runSession(ctx context.Context) (err error) {
	defer w.closeConnection()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Feed panic recovered", slog.Any("panic", r))
			err = fmt.Errorf("feed session panic: %v", r)
		}
	}()

	conn, err := w.connect(ctx)
	if err != nil {
		return err
	}
	connCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	w.wg.Add(1)
	go w.pingLoop(connCtx, conn)
	return w.readLoop(ctx, conn)
}

func (w *Worker) dialURL() (string, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("version", "2")
	q.Set("token", w.cfg.AccessToken)
	q.Set("clientId", w.cfg.ClientID)
	q.Set("authType", "2")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect establishes the websocket connection and subscribes every instrument.
func (w *Worker) connect(ctx context.Context) (*websocket.Conn, error) {
	target, err := w.dialURL()
	if err != nil {
		return nil, domain.NewFatalNetworkError("parse url", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	// A partial frame from the previous connection can never complete.
	w.decoder.Reset()

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.sessionID = uuid.NewString()
	sessionID := w.sessionID
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.IncrementConnections()
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	})

	if err := w.subscribe(ctx); err != nil {
		return nil, domain.NewNetworkError("subscribe", err)
	}

	w.logger.Info("Feed connected",
		slog.String("session_id", sessionID),
		slog.Int("batches", len(w.batches)),
	)
	return conn, nil
}

// subscribe sends every batch, paced by the limiter.
func (w *Worker) subscribe(ctx context.Context) error {
	for i, batch := range w.batches {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		msg, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		if err := w.threadSafeWrite(websocket.TextMessage, msg); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		w.logger.Debug("Subscribe batch sent", slog.Int("batch", i), slog.Int("instruments", batch.InstrumentCount))
	}
	return nil
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (w *Worker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	return conn.WriteMessage(messageType, data)
}

func (w *Worker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			w.writeMu.Unlock()
			if err != nil {
				w.logger.Debug("Feed ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// readLoop decodes binary messages until the connection fails or the
// decoder loses frame boundaries.
func (w *Worker) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("Feed read error", slog.Any("error", err))
			}
			return domain.NewNetworkError("read", err)
		}

		if msgType != websocket.BinaryMessage {
			w.logger.Debug("Feed text message ignored", slog.String("message", string(message)))
			continue
		}

		events, err := w.decoder.Decode(message)
		for _, ev := range events {
			w.dispatch(ev)
		}
		if err != nil {
			return err
		}
	}
}

// closeConnection safely closes the WebSocket connection
func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		if w.metrics != nil {
			w.metrics.DecrementConnections()
		}
	}
	w.connected = false
}

// Disconnect asks the server to end the feed, closes the connection and
// waits for the worker goroutines. Events already queued stay queued.
func (w *Worker) Disconnect() {
	if w.IsConnected() {
		msg, _ := json.Marshal(map[string]int{"RequestCode": RequestDisconnect})
		if err := w.threadSafeWrite(websocket.TextMessage, msg); err != nil {
			w.logger.Debug("Feed disconnect request failed", slog.Any("error", err))
		}
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	w.logger.Info("Feed disconnected")
}

// IsConnected returns connection status
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// SessionID returns the id of the current connection, or "" when disconnected.
func (w *Worker) SessionID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return ""
	}
	return w.sessionID
}
