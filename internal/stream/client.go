// Package stream provides the WebSocket client used to follow live trade
// prints for a single trading pair.
//
// The client owns the connection lifecycle: dialing, keepalive pings,
// message dispatch to a caller-supplied handler, and graceful shutdown on
// context cancellation. Consumers read parsed trade events from the Events
// channel and watch DisconnectChan to learn when the feed dies.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"crossbot/internal/model"
)

const (
	// defaultPingPeriod is the interval between keepalive pings.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout bounds WebSocket write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit caps incoming message size.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout bounds the opening handshake.
	defaultHandshakeTimeout = 10 * time.Second

	// eventBuffer is the capacity of the Events channel. A slow consumer
	// stalls the read loop once the buffer fills.
	eventBuffer = 1000
)

// ErrClientShuttingDown is reported on the error channel when the read loop
// exits because the client is closing.
var ErrClientShuttingDown = errors.New("stream client is shutting down")

// Handler parses one raw WebSocket message and pushes any resulting trade
// events onto the channel. Returned errors are logged, not fatal.
type Handler func(raw []byte, events chan<- model.TradeEvent) error

// Config defines settings for the stream client.
type Config struct {
	// Endpoint is the WebSocket URL to connect to. Required.
	Endpoint string

	// Handler is called for every incoming message. Required.
	Handler Handler

	// PingPeriod is the interval between keepalive pings.
	PingPeriod time.Duration

	// SendTimeout bounds WebSocket write operations.
	SendTimeout time.Duration
}

// Client wraps a websocket.Conn with lifecycle and dispatch logic. Create
// with NewClient; the connection and its goroutines start immediately.
type Client struct {
	conn       atomic.Value // stores *websocket.Conn
	events     chan model.TradeEvent
	disconnect chan struct{}
	errChan    chan error
	cfg        *Config
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
	wg         sync.WaitGroup
}

// NewClient dials the endpoint and starts the read, ping and shutdown
// goroutines. The client lives until ctx is cancelled, Close is called, or
// the connection drops.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	client := &Client{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan model.TradeEvent, eventBuffer),
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
	}

	if err := client.run(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start stream client: %w", err)
	}
	return client, nil
}

// run dials the endpoint and launches the background goroutines.
func (c *Client) run() error {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
	logger.Info().Msg("starting stream client")

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}
	c.conn.Store(conn)

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		// pongs push the read deadline forward; a silent peer times out
		deadline := time.Now().Add(c.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.shutdownListener()
	}()
	return nil
}

// readLoop reads messages until the connection drops or the context is
// cancelled, handing each message to the configured handler.
func (c *Client) readLoop() {
	conn := c.conn.Load().(*websocket.Conn)
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "readLoop").
		Logger()

	logger.Info().Msg("starting read loop")
	defer func() {
		logger.Info().Msg("read loop exiting")
		close(c.disconnect)
		close(c.events)
		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			logger.Info().Msg("context cancelled, exiting read loop")
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info().Err(err).Msg("websocket closed normally")
				} else if websocket.IsUnexpectedCloseError(err) {
					logger.Warn().Err(err).Msg("unexpected websocket closure")
				} else {
					logger.Error().Err(err).Msg("read error")
				}
				select {
				case c.errChan <- err:
				default:
					logger.Warn().Err(err).Msg("error channel full, dropping error")
				}
				return
			}

			func() {
				// a panicking handler must not take the whole feed down
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Any("recover", r).Msg("panic in message handler")
					}
				}()
				if err := c.cfg.Handler(data, c.events); err != nil {
					logger.Error().Err(err).Msg("error handling stream message")
				}
			}()
		}
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "pingLoop").
		Logger()

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			deadline := time.Now().Add(c.cfg.SendTimeout)
			if err := conn.SetWriteDeadline(deadline); err != nil {
				logger.Warn().Err(err).Msg("failed to set write deadline")
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// shutdownListener closes the client when the context is cancelled.
func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	c.Close()
}

// Close gracefully shuts the client down. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		logger := log.With().Str("endpoint", c.cfg.Endpoint).Logger()
		logger.Info().Msg("shutting down stream client")

		c.cancel()

		if conn := c.conn.Load(); conn != nil {
			if ws, ok := conn.(*websocket.Conn); ok {
				if err := ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				); err != nil {
					logger.Warn().Err(err).Msg("failed to send close frame")
				}
				if err := ws.Close(); err != nil {
					logger.Warn().Err(err).Msg("error closing websocket connection")
				}
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}
		logger.Info().Msg("shutdown complete")
	})
}

// dial establishes the WebSocket connection.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			log.Error().
				Err(err).
				Int("statusCode", resp.StatusCode).
				Str("endpoint", c.cfg.Endpoint).
				Msg("websocket connection failed")
		} else {
			log.Error().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("websocket connection failed")
		}
		return nil, err
	}
	log.Info().Str("endpoint", c.cfg.Endpoint).Msg("websocket connection established")
	return conn, nil
}

// Events returns the channel of parsed trade events. It is closed when the
// read loop exits.
func (c *Client) Events() <-chan model.TradeEvent {
	return c.events
}

// DisconnectChan returns a channel closed when the connection is lost.
func (c *Client) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan returns a channel that emits the terminal read error.
func (c *Client) ErrChan() <-chan error {
	return c.errChan
}
