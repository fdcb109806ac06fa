package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSClient wraps a core NATS connection for publish/subscribe use.
type NATSClient struct {
	Conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSClient connects to NATS with sensible reconnect behaviour.
// natsURL example: "nats://localhost:4222".
func NewNATSClient(natsURL, appName string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Error("NATS connection closed", "error", nc.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSClient{Conn: nc, logger: logger}, nil
}

// Publish sends data to the given subject. Fire-and-forget: delivery is not
// confirmed beyond the client's own buffering.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := c.Conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", subject, err)
	}
	return nil
}

// SubscribeWithQueue subscribes to subject as part of queueGroup. The handler
// runs on the NATS client's delivery goroutine.
func (c *NATSClient) SubscribeWithQueue(subject, queueGroup string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.Conn.QueueSubscribe(subject, queueGroup, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %q: %w", subject, err)
	}
	return sub, nil
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.Conn != nil && !c.Conn.IsClosed() {
		c.Conn.Drain()
		c.Conn.Close()
	}
}
