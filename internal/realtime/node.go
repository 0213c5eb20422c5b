// Package realtime is the hosted pub/sub rendition of the channel protocol:
// a centrifuge node where presence is native and the hand-off state is
// derived from admin connections instead of synthesized control frames.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/centrifuge"

	"github.com/mchatly/livechat/internal/bot"
	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/handoff"
	"github.com/mchatly/livechat/internal/metrics"
	"github.com/mchatly/livechat/internal/protocol"
	"github.com/mchatly/livechat/internal/token"
)

// Options wires the node's collaborators.
type Options struct {
	Tracker    *handoff.Tracker
	Transcript domain.Transcript
	Answerer   domain.Answerer
	Notifier   domain.Notifier
	Metrics    *metrics.Metrics
}

// Node wraps a centrifuge node. Every connection is pinned to the single
// channel its capability names; publishes are intercepted so the server
// stamps timestamps, persists transcripts and runs the bot path exactly as
// the self-hosted relay does.
type Node struct {
	node *centrifuge.Node
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	grants map[string]*grant // identity -> channel grant, refcounted across tabs
}

type grant struct {
	channel string
	refs    int
}

func NewNode(opts Options) (*Node, error) {
	cn, err := centrifuge.New(centrifuge.Config{
		LogLevel:           centrifuge.LogLevelError,
		ClientQueueMaxSize: 1 << 20,
		ClientChannelLimit: 4,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		node:   cn,
		opts:   opts,
		now:    time.Now,
		grants: make(map[string]*grant),
	}
	n.setupHandlers()
	return n, nil
}

var subscribeOpts = centrifuge.SubscribeOptions{
	EmitPresence:  true,
	EmitJoinLeave: true,
	PushJoinLeave: true,
}

// handleConnecting authenticates the handshake. It takes no node state: a
// transport that dies before OnConnect must leave nothing behind to release.
func (n *Node) handleConnecting(ctx context.Context) (centrifuge.ConnectReply, error) {
	cred, ok := centrifuge.GetCredentials(ctx)
	if !ok {
		return centrifuge.ConnectReply{}, centrifuge.ErrorUnauthorized
	}
	claims, ok := ClaimsFromContext(ctx)
	if !ok || !claims.Allows(claims.Channel, token.CapSubscribe) {
		return centrifuge.ConnectReply{}, centrifuge.ErrorUnauthorized
	}

	reply := centrifuge.ConnectReply{
		Credentials: cred,
		Subscriptions: map[string]centrifuge.SubscribeOptions{
			claims.Channel: subscribeOpts,
		},
	}

	// Late-joining visitors get the current hand-off state in the
	// connect reply; the one-time notice went out before they existed.
	if !claims.IsAdmin() && n.opts.Tracker.State(claims.Channel) == handoff.AdminActive {
		if data, err := protocol.AdminJoined().Encode(); err == nil {
			reply.Data = data
		}
	}
	return reply, nil
}

func (n *Node) setupHandlers() {
	n.node.OnConnecting(func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		return n.handleConnecting(ctx)
	})

	n.node.OnConnect(func(client *centrifuge.Client) {
		claims, ok := ClaimsFromContext(client.Context())
		if !ok {
			client.Disconnect(centrifuge.DisconnectServerError)
			return
		}
		identity := client.UserID()
		channel := claims.Channel
		// Grant taken here, released in OnDisconnect below; both hooks exist
		// for the connection or neither does.
		n.addGrant(identity, channel)
		role := roleFor(identity)
		log := slog.With("identity", identity, "channel", channel)
		log.Info("realtime: client connected")

		if role == domain.RoleAdmin && n.opts.Tracker.AdminEntered(channel) {
			n.publishEnvelope(channel, protocol.AdminJoined())
		}

		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			// The capability pins exactly one channel; everything else is
			// denied regardless of the channel's existence.
			if e.Channel != channel {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied)
				return
			}
			cb(centrifuge.SubscribeReply{Options: subscribeOpts}, nil)
		})

		client.OnPublish(func(e centrifuge.PublishEvent, cb centrifuge.PublishCallback) {
			if e.Channel != channel {
				cb(centrifuge.PublishReply{}, centrifuge.ErrorPermissionDenied)
				return
			}

			in, err := protocol.ParseInbound(e.Data)
			if err != nil {
				// Malformed frames vanish without feedback, same as the
				// relay: acknowledge and publish nothing.
				n.opts.Metrics.FramesDropped.Inc()
				log.Debug("realtime: dropped frame", "error", err)
				cb(centrifuge.PublishReply{Result: &centrifuge.PublishResult{}}, nil)
				return
			}

			n.handleMessage(client.Context(), log, channel, role, in.Text)
			cb(centrifuge.PublishReply{Result: &centrifuge.PublishResult{}}, nil)
		})

		client.OnDisconnect(func(e centrifuge.DisconnectEvent) {
			n.releaseGrant(identity)
			if role == domain.RoleAdmin && n.opts.Tracker.AdminLeft(channel) {
				n.publishEnvelope(channel, protocol.AdminLeft())
			}
			log.Info("realtime: client disconnected", "reason", e.Reason)
		})
	})
}

// handleMessage normalizes an inbound publish into a server-stamped envelope
// and runs the same routing the relay does.
func (n *Node) handleMessage(ctx context.Context, log *slog.Logger, channel string, role domain.Role, text string) {
	chatbotID, sessionID, err := protocol.ParseChannelKey(channel)
	if err != nil {
		log.Error("realtime: bad channel key", "error", err)
		return
	}

	env := protocol.NewMessage(role, text, n.now())

	if role == domain.RoleAdmin {
		n.append(ctx, log, chatbotID, sessionID, domain.ByAdmin, text, env.Timestamp)
		n.publishEnvelope(channel, env)
		if n.opts.Notifier != nil {
			n.opts.Notifier.Answered(chatbotID, sessionID)
		}
		return
	}

	n.append(ctx, log, chatbotID, sessionID, domain.ByUser, text, env.Timestamp)
	n.publishEnvelope(channel, env)

	if n.opts.Tracker.Route(channel) == handoff.RouteToAdmin {
		if n.opts.Notifier != nil {
			n.opts.Notifier.VisitorWaiting(chatbotID, sessionID)
		}
		return
	}

	reply, err := n.opts.Answerer.Answer(ctx, chatbotID, text)
	if err != nil {
		n.opts.Metrics.BotFallbacks.Inc()
		log.Warn("realtime: bot answer failed", "error", err)
		reply = bot.FallbackReply
		if n.opts.Notifier != nil {
			n.opts.Notifier.VisitorWaiting(chatbotID, sessionID)
		}
	}

	replyEnv := protocol.NewMessage(domain.RoleSystem, reply, n.now())
	n.append(ctx, log, chatbotID, sessionID, domain.ByBot, reply, replyEnv.Timestamp)
	n.publishEnvelope(channel, replyEnv)
}

func (n *Node) append(ctx context.Context, log *slog.Logger, chatbotID, sessionID string, by domain.MessageBy, text string, tsMilli int64) {
	ts := time.UnixMilli(tsMilli).UTC()
	if _, err := n.opts.Transcript.AppendMessage(ctx, chatbotID, sessionID, by, text, ts); err != nil {
		log.Warn("realtime: transcript append failed", "message_by", by, "error", err)
	}
}

func (n *Node) publishEnvelope(channel string, env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		slog.Error("realtime: encode envelope failed", "type", env.Type, "error", err)
		return
	}
	n.opts.Metrics.EnvelopesRelayed.WithLabelValues(string(env.Type)).Inc()
	if _, err := n.node.Publish(channel, data); err != nil {
		slog.Warn("realtime: publish failed", "channel", channel, "error", err)
	}
}

func (n *Node) addGrant(identity, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if g, ok := n.grants[identity]; ok {
		g.refs++
		g.channel = channel
		return
	}
	n.grants[identity] = &grant{channel: channel, refs: 1}
}

func (n *Node) releaseGrant(identity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.grants[identity]
	if !ok {
		return
	}
	g.refs--
	if g.refs <= 0 {
		delete(n.grants, identity)
	}
}

func (n *Node) channelFor(identity string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.grants[identity]
	if !ok {
		return "", false
	}
	return g.channel, true
}

func roleFor(identity string) domain.Role {
	if strings.HasPrefix(identity, "admin:") {
		return domain.RoleAdmin
	}
	return domain.RoleVisitor
}

// Run starts the node. Must be called before serving connections.
func (n *Node) Run() error {
	return n.node.Run()
}

func (n *Node) Shutdown(ctx context.Context) error {
	return n.node.Shutdown(ctx)
}

// Handler exposes the node's websocket endpoint. Mount it behind
// AuthMiddleware; unauthenticated requests must not reach it.
func (n *Node) Handler() http.Handler {
	return centrifuge.NewWebsocketHandler(n.node, centrifuge.WebsocketConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	})
}
