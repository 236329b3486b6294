// Package transport maintains the WebSocket connection to the conversation
// gateway: it dials, reads fragment envelopes, and drives the connection
// health monitor through the lifecycle of the link.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"parley/internal/domain"
	"parley/internal/infra/tracer"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
)

// EnvelopeSink consumes decoded wire envelopes in delivery order.
type EnvelopeSink interface {
	HandleEnvelope(ctx context.Context, env domain.Envelope)
}

// ClientConfig configures the gateway connection.
type ClientConfig struct {
	URL         string
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Client is the WebSocket transport. It owns the dial/read loop; connection
// state lives in the Monitor, message state lives in the sink.
type Client struct {
	cfg     ClientConfig
	sink    EnvelopeSink
	monitor *Monitor
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a transport client.
func NewClient(cfg ClientConfig, sink EnvelopeSink, monitor *Monitor, logger *slog.Logger) *Client {
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	return &Client{cfg: cfg, sink: sink, monitor: monitor, logger: logger}
}

// Run connects and reads envelopes until ctx is cancelled. Each delivered
// envelope reaches the sink in order; read errors feed the monitor and
// trigger backed-off redials while the monitor allows another attempt. When
// reconnection is exhausted the loop parks until an explicit monitor Reset.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := c.monitor.Connecting(); err != nil {
			if !c.awaitReset(ctx) {
				return nil
			}
			continue
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.monitor.ConnectFailed(err)
			if c.monitor.Terminal() {
				c.logger.Error("reconnect attempts exhausted, waiting for reset", "url", c.cfg.URL)
				if !c.awaitReset(ctx) {
					return nil
				}
				continue
			}
			if !c.sleep(ctx, c.backoffFor(c.monitor.Snapshot().ReconnectAttempts)) {
				return nil
			}
			continue
		}

		c.setConn(conn)
		c.monitor.Connected()

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return nil
		}
		c.monitor.Dropped(err)
	}
}

// Send writes an envelope to the gateway over the current connection.
func (c *Client) Send(ctx context.Context, env domain.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.NewDomainError("Transport.Send", domain.ErrNotConnected, c.cfg.URL)
	}
	return domain.WrapOp("Transport.Send", wsjson.Write(ctx, conn, env))
}

// awaitReset blocks until the monitor leaves the terminal state via an
// explicit Reset, or ctx ends. Returns false on cancellation.
func (c *Client) awaitReset(ctx context.Context) bool {
	ch := make(chan struct{}, 1)
	unsub := c.monitor.Subscribe(func(s domain.ConnectionState) {
		if s.Status == domain.ConnDisconnected && s.ReconnectAttempts == 0 {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if !c.monitor.Terminal() {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-ch:
		return true
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := tracer.StartSpan(ctx, "transport.dial",
		tracer.WithStringAttr("url", c.cfg.URL))
	defer span.End()

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Transport.dial", err)
	}
	tracer.SetOK(span)
	return conn, nil
}

// readLoop delivers envelopes until the connection breaks. Frames are read
// raw and unmarshalled here rather than through wsjson, which closes the
// connection on a decode failure; a malformed frame must not cost the
// well-formed envelopes queued behind it. Frames that do not parse are
// dropped and logged.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}
		c.sink.HandleEnvelope(ctx, env)
	}
}

// backoffFor returns the redial delay after the given failed attempt count:
// base doubled per attempt, capped.
func (c *Client) backoffFor(attempts int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	if d > c.cfg.BackoffCap {
		return c.cfg.BackoffCap
	}
	return d
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
