// Package notify publishes task lifecycle events to NATS so that other
// systems can react to finished analyses without polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "legacylens"

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subject returns the subject a status event is published on:
// <prefix>.task.<status>, with the status in lower case.
func Subject(prefix string, status orchestrator.Status) string {
	return prefix + ".task." + strings.ToLower(string(status))
}

// DegradedSubject returns the subject of best-effort stage failures.
func DegradedSubject(prefix string) string {
	return prefix + ".stage.degraded"
}

// Notifier forwards Reporter events to a Publisher.
type Notifier struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// New creates a Notifier publishing under prefix.
func New(pub Publisher, prefix string, logger *slog.Logger) *Notifier {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, prefix: prefix, logger: logger}
}

// Notify publishes ev if it is a status change or a degraded stage.
// Stage start and finish events are not published.
func (n *Notifier) Notify(ev orchestrator.TaskEvent) error {
	var subject string
	switch ev.Kind {
	case orchestrator.EventStatus:
		subject = Subject(n.prefix, ev.Status)
	case orchestrator.EventStageDegraded:
		subject = DegradedSubject(n.prefix)
	default:
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("notify: publish %s: %w", subject, err)
	}
	return nil
}

// Run publishes events from r until ctx is cancelled or r is closed.
// Publish failures are logged and do not stop the loop.
func (n *Notifier) Run(ctx context.Context, r *orchestrator.Reporter) error {
	events, cancel := r.Subscribe(1024)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := n.Notify(ev); err != nil {
				n.logger.Warn("task event not published", "task_id", ev.TaskID, "error", err)
			}
		}
	}
}

// Connect dials the NATS server at url with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("legacylens"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	return nc, nil
}
