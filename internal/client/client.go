// Package client is a Go client for the live-chat relay endpoint, used by
// the admin console command.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mchatly/livechat/internal/backoff"
	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/protocol"
)

const writeTimeout = 10 * time.Second

type Config struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:8080/live-chat.
	URL          string
	ChatbotToken string
	SessionID    string
	Role         domain.Role
}

type Client struct {
	cfg  Config
	conn *websocket.Conn

	connected bool
	mu        sync.RWMutex
	writeMu   sync.Mutex

	onEnvelope func(env *protocol.Envelope)
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// OnEnvelope registers the callback invoked for every frame the relay
// delivers: messages, admin_joined, admin_left. Set before Connect.
func (c *Client) OnEnvelope(cb func(env *protocol.Envelope)) {
	c.onEnvelope = cb
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}
	q := endpoint.Query()
	q.Set("token", c.cfg.ChatbotToken)
	q.Set("sessionId", c.cfg.SessionID)
	q.Set("role", string(c.cfg.Role))
	endpoint.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial relay: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial relay: %w", err)
	}

	c.conn = conn
	c.connected = true
	go c.readMessages(ctx)

	slog.Info("client: connected", "session_id", c.cfg.SessionID, "role", c.cfg.Role)
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SendText publishes one chat message on the session's channel.
func (c *Client) SendText(text string) error {
	data, err := protocol.Envelope{Type: protocol.TypeMessage, Text: text}.Encode()
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	return err
}

func (c *Client) readMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("client: read error", "error", err)
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("client: decode error", "error", err)
			continue
		}
		if c.onEnvelope != nil {
			c.onEnvelope(env)
		}
	}
}

// Reconnect tears the connection down and redials with quick backoff. The
// relay holds no per-connection state worth restoring; a fresh attach
// replays nothing.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()

	return backoff.RetryWithCallback(ctx, backoff.Quick, func(ctx context.Context, attempt int) error {
		return c.Connect(ctx)
	}, func(attempt int, err error, delay time.Duration) {
		slog.Warn("client: reconnect attempt failed", "attempt", attempt, "error", err, "retry_in", delay)
	})
}
