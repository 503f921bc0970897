// Package mirror republishes accepted envelopes to NATS so downstream
// services can consume the stream without holding a consumer connection.
// Mirroring is best-effort: a broker failure is logged and counted, never
// surfaced on the webhook path.
package mirror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/relaywire/relay/internal/event"
	"github.com/relaywire/relay/internal/metrics"
)

// Publisher mirrors envelopes onto NATS subjects. Events land on the
// configured prefix subject and additionally on prefix.<event.type>, so the
// dot-namespaced event type becomes a NATS subject hierarchy.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func New(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("relay-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

func (p *Publisher) Publish(env *event.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("failed to marshal envelope for mirror", slog.String("error", err.Error()))
		metrics.MirrorErrors.Inc()
		return
	}

	for _, subject := range p.subjects(env.Type) {
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.Warn("mirror publish failed",
				slog.String("subject", subject),
				slog.String("error", err.Error()),
			)
			metrics.MirrorErrors.Inc()
		}
	}
}

// subjects lists the NATS subjects an event of the given type lands on.
func (p *Publisher) subjects(eventType string) []string {
	return []string{p.prefix, p.prefix + "." + eventType}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}
