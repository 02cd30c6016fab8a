// Package notify delivers finished sync cycle outcomes to interested parties.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"mana-sync-service/internal/config"
	"mana-sync-service/internal/logger"
	"mana-sync-service/internal/sync"
)

// LogNotifier writes each outcome to the service log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, out sync.Outcome) error {
	fields := []zap.Field{
		zap.String("cycleID", out.CycleID),
		zap.String("collection", out.Collection),
		zap.String("status", string(out.Status)),
		zap.Int("added", out.Added),
		zap.Int("updated", out.Updated),
		zap.Int("deleted", out.Deleted),
		zap.Int("unchanged", out.Unchanged),
		zap.Duration("duration", out.Duration()),
	}
	switch out.Status {
	case sync.StatusSucceeded, sync.StatusSkipped:
		logger.Log.Info("Sync outcome", fields...)
	default:
		fields = append(fields, zap.String("failureKind", sync.FailureKind(out.Err)), zap.Error(out.Err))
		logger.Log.Warn("Sync outcome", fields...)
	}
	return nil
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes each outcome as JSON on <subject>.<collection>.
type NATSNotifier struct {
	pub     publisher
	subject string
	conn    *nats.Conn
}

// NewNATSNotifier connects to the configured NATS server.
func NewNATSNotifier(cfg config.NotifyConfig) (*NATSNotifier, error) {
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("mana-sync-service"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	n := newNATSNotifier(conn, cfg.Subject)
	n.conn = conn
	return n, nil
}

func newNATSNotifier(pub publisher, subject string) *NATSNotifier {
	return &NATSNotifier{pub: pub, subject: subject}
}

func (n *NATSNotifier) Notify(_ context.Context, out sync.Outcome) error {
	if out.Status == sync.StatusSkipped {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	if err := n.pub.Publish(n.subject+"."+out.Collection, data); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

// Close drains the underlying connection, if this notifier owns one.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Multi fans one outcome out to several notifiers and joins their errors.
type Multi []sync.Notifier

func (m Multi) Notify(ctx context.Context, out sync.Outcome) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
