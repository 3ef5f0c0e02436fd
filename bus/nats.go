package bus

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"
)

type NatsBus struct {
	conn   *nats.Conn
	logger logr.Logger
}

// Connect dials url and keeps reconnecting for as long as the bus is open.
func Connect(url string, logger logr.Logger) (*NatsBus, error) {
	logger = logger.WithValues("nats", url)

	conn, err := nats.Connect(url,
		nats.Name("cf-staging"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, "disconnected from message bus")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to message bus", "server", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error(err, "message bus error", "subject", subject)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to message bus: %w", err)
	}

	return &NatsBus{conn: conn, logger: logger}, nil
}

func (b *NatsBus) Publish(subject string, payload interface{}) error {
	data, err := encode(subject, payload)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NatsBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		deliver(b.logger, msg.Subject, msg.Data, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains subscriptions so in-flight reports finish before the connection closes.
func (b *NatsBus) Close() error {
	return b.conn.Drain()
}
