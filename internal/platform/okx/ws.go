// Package okx implements the WebSocket transport for the OKX L2 book feed.
// The feed ingestor owns the connection lifecycle; this package only speaks
// the wire protocol: subscribe handshake, snapshot/diff payloads, and
// application-level ping/pong keep-alive.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/costsim/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between inbound messages before the
	// connection is considered dead. OKX pushes at least a pong every ping.
	pongWait = 60 * time.Second

	// pingPeriod sends application-level pings at this interval. Must be less
	// than pongWait.
	pingPeriod = 25 * time.Second

	// defaultHandshakeTimeout bounds the WebSocket dial when the caller does
	// not supply one.
	defaultHandshakeTimeout = 15 * time.Second
)

// Client is a single-use WebSocket connection to the OKX books channel. The
// ingestor creates a fresh Client per connection attempt and drives it with
// blocking ReadUpdate calls; Close unblocks any pending read.
type Client struct {
	url     string
	channel string
	instID  string

	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	logger *slog.Logger
}

// NewClient creates a client for the given endpoint, channel, and instrument.
func NewClient(url, channel, instID string, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		channel: channel,
		instID:  instID,
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "okx_ws")),
	}
}

// Connect dials the endpoint with a bounded handshake timeout and starts the
// keep-alive ping loop.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("okx: connect %s: %w", c.url, err)
	}
	c.conn = conn

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pingLoop()
	return nil
}

// Subscribe sends the books-channel subscription for the configured
// instrument. The exchange answers with a confirmation event followed by one
// full snapshot and then incremental diffs.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("okx: not connected")
	}
	cmd := wsCommand{
		Op:   "subscribe",
		Args: []wsArg{{Channel: c.channel, InstID: c.instID}},
	}
	if err := c.send(cmd); err != nil {
		return fmt.Errorf("okx: subscribe %s/%s: %w", c.channel, c.instID, err)
	}
	return nil
}

// Resync re-requests a full snapshot by cycling the subscription. The
// exchange re-sends the snapshot on every fresh subscribe, which resets
// sequence tracking downstream.
func (c *Client) Resync(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("okx: not connected")
	}
	unsub := wsCommand{
		Op:   "unsubscribe",
		Args: []wsArg{{Channel: c.channel, InstID: c.instID}},
	}
	if err := c.send(unsub); err != nil {
		return fmt.Errorf("okx: resync unsubscribe: %w", err)
	}
	return c.Subscribe(ctx)
}

// ReadUpdate blocks until the next book update arrives. Malformed payloads
// are logged and skipped without affecting sequence tracking; subscription
// acks and pongs are consumed silently. It returns domain.ErrClosed after
// Close, and the transport error on connection failure.
func (c *Client) ReadUpdate() (domain.BookUpdate, error) {
	for {
		select {
		case <-c.done:
			return domain.BookUpdate{}, domain.ErrClosed
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return domain.BookUpdate{}, domain.ErrClosed
			default:
			}
			return domain.BookUpdate{}, fmt.Errorf("okx: read: %w", err)
		}
		received := time.Now()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		// Application-level keep-alive reply.
		if string(raw) == "pong" {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("dropping unparseable message", slog.String("error", err.Error()))
			continue
		}

		switch {
		case msg.Event == "error":
			c.logger.Warn("exchange error event",
				slog.String("code", msg.Code),
				slog.String("msg", msg.Msg),
			)
			continue
		case msg.Event != "":
			// subscribe/unsubscribe confirmations
			continue
		case len(msg.Data) == 0:
			continue
		}

		update, err := msg.toUpdate(received)
		if err != nil {
			c.logger.Warn("dropping malformed book payload", slog.String("error", err.Error()))
			continue
		}
		return update, nil
	}
}

// Close shuts the connection down, unblocking any pending ReadUpdate.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends application-level pings until the connection closes. OKX
// drops idle connections after 30 seconds without traffic.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
