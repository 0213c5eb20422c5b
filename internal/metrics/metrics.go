// Package metrics exposes prometheus collectors for the relay. The registry
// reports swallowed socket failures here instead of dropping them silently,
// so a degrading relay is visible to operators.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mchatly/livechat/internal/domain"
)

type Metrics struct {
	ActiveConnections *prometheus.GaugeVec
	EnvelopesRelayed  *prometheus.CounterVec
	SendFailures      *prometheus.CounterVec
	FramesDropped     prometheus.Counter
	BotFallbacks      prometheus.Counter
	HandoffSwitches   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livechat_relay_connections",
			Help: "Connections currently registered on the relay, by role.",
		}, []string{"role"}),
		EnvelopesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_relay_envelopes_relayed_total",
			Help: "Envelopes forwarded to peers, by envelope type.",
		}, []string{"type"}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_relay_send_failures_total",
			Help: "Best-effort broadcast sends that failed, by target role.",
		}, []string{"role"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_relay_frames_dropped_total",
			Help: "Inbound frames dropped as malformed.",
		}),
		BotFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_bot_fallbacks_total",
			Help: "Retrieval-bot failures answered with the fixed fallback reply.",
		}),
		HandoffSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_handoff_switches_total",
			Help: "Hand-off state transitions, by resulting state.",
		}, []string{"state"}),
	}
}

// ConnectionAdded, ConnectionRemoved and BroadcastFailure implement
// registry.Observer.
func (m *Metrics) ConnectionAdded(channel string, role domain.Role) {
	m.ActiveConnections.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) ConnectionRemoved(channel string, role domain.Role) {
	m.ActiveConnections.WithLabelValues(string(role)).Dec()
}

func (m *Metrics) BroadcastFailure(channel string, role domain.Role, err error) {
	m.SendFailures.WithLabelValues(string(role)).Inc()
	slog.Warn("relay: broadcast send failed", "channel", channel, "role", role, "error", err)
}
