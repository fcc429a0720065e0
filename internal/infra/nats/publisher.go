package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"orderflow_go/internal/domain"

	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Publisher fans flow records and alerts out over core NATS.
// Delivery is fire-and-forget.
type Publisher struct {
	conn   Conn
	prefix string
}

var _ domain.FlowPublisher = (*Publisher)(nil)

// Connect dials url and keeps reconnecting for the life of the process.
func Connect(url, name string) (*nats.Conn, error) {
	logger := slog.Default().With("module", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, domain.NewNetworkError("nats connect", err)
	}
	return nc, nil
}

// NewPublisher publishes under prefix, e.g. "orderflow.flow.53216".
func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "orderflow"
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// FlowSubject returns the subject a security's records are published on.
func (p *Publisher) FlowSubject(securityID uint32) string {
	return p.prefix + ".flow." + strconv.FormatUint(uint64(securityID), 10)
}

// AlertSubject returns the subject a security's alerts are published on.
func (p *Publisher) AlertSubject(securityID uint32) string {
	return p.prefix + ".alert." + strconv.FormatUint(uint64(securityID), 10)
}

func (p *Publisher) PublishFlow(rec domain.FlowRecord) error {
	return p.publish(p.FlowSubject(rec.SecurityID), rec)
}

func (p *Publisher) PublishAlert(alert domain.FlowAlert) error {
	return p.publish(p.AlertSubject(alert.SecurityID), alert)
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
