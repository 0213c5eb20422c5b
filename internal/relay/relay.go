// Package relay implements the self-hosted websocket backend: one logical
// channel per visitor session, messages fanned out to the opposite role, with
// hand-off control frames synthesized for widgets that have no native
// presence.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mchatly/livechat/internal/bot"
	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/handoff"
	"github.com/mchatly/livechat/internal/metrics"
	"github.com/mchatly/livechat/internal/protocol"
	"github.com/mchatly/livechat/internal/registry"
)

const (
	writeTimeout = 10 * time.Second
	maxFrameSize = 32 * 1024
)

// Options wires the relay's collaborators. All fields except Notifier are
// required.
type Options struct {
	Registry   *registry.Registry
	Tracker    *handoff.Tracker
	Directory  domain.Directory
	Transcript domain.Transcript
	Answerer   domain.Answerer
	Notifier   domain.Notifier
	Metrics    *metrics.Metrics

	// ExclusiveAdmin rejects a second concurrent admin on a channel instead
	// of co-viewing.
	ExclusiveAdmin bool
	AllowedOrigins []string
	// RejectEmptyOrigin refuses upgrades that carry no Origin header. Off by
	// default: a request without one comes from a non-browser client such as
	// the admin console, not from a page a cross-site attacker controls.
	RejectEmptyOrigin bool
}

type Relay struct {
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func New(opts Options) *Relay {
	r := &Relay{
		opts:  opts,
		now:   time.Now,
		conns: make(map[*wsConn]struct{}),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.originAllowed,
	}
	return r
}

func (r *Relay) originAllowed(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return !r.opts.RejectEmptyOrigin
	}
	for _, allowed := range r.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// wsConn serializes writes on the underlying socket and guards each with a
// deadline, so one stalled peer cannot wedge a broadcast.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.mu.Unlock()
	c.ws.Close()
}

// ServeHTTP authenticates the query parameters, upgrades, and runs the read
// loop until the peer goes away. Invalid parameters are rejected before the
// upgrade so the widget sees an HTTP status, not a dropped socket.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	chatbotToken := req.URL.Query().Get("token")
	sessionID := req.URL.Query().Get("sessionId")
	role := domain.Role(req.URL.Query().Get("role"))

	if chatbotToken == "" || sessionID == "" {
		http.Error(w, "missing token or sessionId", http.StatusBadRequest)
		return
	}
	if !role.Valid() {
		http.Error(w, "role must be admin or visitor", http.StatusBadRequest)
		return
	}

	chatbot, err := r.opts.Directory.ResolveChatbotByToken(req.Context(), chatbotToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "unknown chatbot token", http.StatusNotFound)
			return
		}
		http.Error(w, "chatbot lookup failed", http.StatusInternalServerError)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the response.
		slog.Debug("relay: upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	conn := &wsConn{ws: ws}
	connID := uuid.NewString()
	channel := protocol.ChannelKey(chatbot.ID, sessionID)
	log := slog.With("conn_id", connID, "channel", channel, "role", role)

	if role == domain.RoleAdmin && r.opts.ExclusiveAdmin {
		if !r.opts.Registry.TryAddAdmin(channel, conn) {
			log.Info("relay: admin slot taken")
			conn.close(websocket.ClosePolicyViolation, "admin slot taken")
			return
		}
	} else {
		r.opts.Registry.Add(channel, role, conn)
	}
	r.track(conn)
	log.Info("relay: connected")

	if role == domain.RoleAdmin {
		if r.opts.Tracker.AdminEntered(channel) {
			r.broadcast(channel, domain.RoleVisitor, protocol.AdminJoined())
		}
	} else if r.opts.Tracker.State(channel) == handoff.AdminActive {
		// Late visitor catch-up: the one-time notice already went out before
		// this socket existed.
		if data, err := protocol.AdminJoined().Encode(); err == nil {
			conn.Send(data)
		}
	}

	r.readLoop(req.Context(), log, conn, chatbot.ID, sessionID, channel, role)

	r.untrack(conn)
	r.opts.Registry.Remove(channel, role, conn)
	if role == domain.RoleAdmin && r.opts.Tracker.AdminLeft(channel) {
		r.broadcast(channel, domain.RoleVisitor, protocol.AdminLeft())
	}
	ws.Close()
	log.Info("relay: disconnected")
}

func (r *Relay) readLoop(ctx context.Context, log *slog.Logger, conn *wsConn, chatbotID, sessionID, channel string, role domain.Role) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("relay: read failed", "error", err)
			}
			return
		}

		in, err := protocol.ParseInbound(data)
		if err != nil {
			// Malformed frames are dropped, never fatal: a buggy widget build
			// must not be able to kill its own session.
			r.opts.Metrics.FramesDropped.Inc()
			log.Debug("relay: dropped frame", "error", err)
			continue
		}

		env := protocol.NewMessage(role, in.Text, r.now())
		switch role {
		case domain.RoleVisitor:
			r.handleVisitorMessage(ctx, log, conn, chatbotID, sessionID, channel, env)
		case domain.RoleAdmin:
			r.handleAdminMessage(ctx, log, chatbotID, sessionID, channel, env)
		}
	}
}

// handleVisitorMessage persists the text, then routes it: to attached admins
// while the channel is ADMIN_ACTIVE, to the retrieval bot otherwise. The
// route is sampled once; a reply racing an attaching admin stands.
func (r *Relay) handleVisitorMessage(ctx context.Context, log *slog.Logger, conn *wsConn, chatbotID, sessionID, channel string, env protocol.Envelope) {
	r.append(ctx, log, chatbotID, sessionID, domain.ByUser, env.Text, env.Timestamp)

	if r.opts.Tracker.Route(channel) == handoff.RouteToAdmin {
		r.broadcast(channel, domain.RoleAdmin, env)
		if r.opts.Notifier != nil {
			r.opts.Notifier.VisitorWaiting(chatbotID, sessionID)
		}
		return
	}

	reply, err := r.opts.Answerer.Answer(ctx, chatbotID, env.Text)
	if err != nil {
		// Retrieval being down is invisible to the visitor: they get the
		// fixed fallback bubble and an admin gets paged.
		r.opts.Metrics.BotFallbacks.Inc()
		log.Warn("relay: bot answer failed", "error", err)
		reply = bot.FallbackReply
		if r.opts.Notifier != nil {
			r.opts.Notifier.VisitorWaiting(chatbotID, sessionID)
		}
	}

	replyEnv := protocol.NewMessage(domain.RoleSystem, reply, r.now())
	r.append(ctx, log, chatbotID, sessionID, domain.ByBot, reply, replyEnv.Timestamp)
	if data, err := replyEnv.Encode(); err == nil {
		r.opts.Metrics.EnvelopesRelayed.WithLabelValues(string(protocol.TypeMessage)).Inc()
		conn.Send(data)
	}
}

func (r *Relay) handleAdminMessage(ctx context.Context, log *slog.Logger, chatbotID, sessionID, channel string, env protocol.Envelope) {
	r.append(ctx, log, chatbotID, sessionID, domain.ByAdmin, env.Text, env.Timestamp)
	r.broadcast(channel, domain.RoleVisitor, env)
	if r.opts.Notifier != nil {
		r.opts.Notifier.Answered(chatbotID, sessionID)
	}
}

// append writes to the transcript, best effort. Delivery never fails on a
// persistence error; the gap is logged instead.
func (r *Relay) append(ctx context.Context, log *slog.Logger, chatbotID, sessionID string, by domain.MessageBy, text string, tsMilli int64) {
	ts := time.UnixMilli(tsMilli).UTC()
	if _, err := r.opts.Transcript.AppendMessage(ctx, chatbotID, sessionID, by, text, ts); err != nil {
		log.Warn("relay: transcript append failed", "message_by", by, "error", err)
	}
}

func (r *Relay) broadcast(channel string, target domain.Role, env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		slog.Error("relay: encode envelope failed", "type", env.Type, "error", err)
		return
	}
	r.opts.Metrics.EnvelopesRelayed.WithLabelValues(string(env.Type)).Inc()
	r.opts.Registry.Broadcast(channel, target, data)
}

func (r *Relay) track(c *wsConn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Relay) untrack(c *wsConn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

// Shutdown closes every open socket with a going-away frame. Read loops then
// unwind through their normal deregistration path.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	open := make([]*wsConn, 0, len(r.conns))
	for c := range r.conns {
		open = append(open, c)
	}
	r.mu.Unlock()

	for _, c := range open {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	return nil
}

// Handler exposes the relay's websocket endpoint.
func (r *Relay) Handler() http.Handler { return r }
