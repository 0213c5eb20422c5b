// Package handoff tracks the per-channel hand-off state that decides whether
// an inbound visitor message goes to the retrieval bot or to a human admin.
package handoff

import (
	"log/slog"
	"sync"
)

type State string

const (
	// BotActive is the initial state: visitor text is answered by retrieval.
	BotActive State = "BOT_ACTIVE"
	// AdminActive holds while at least one admin party is present.
	AdminActive State = "ADMIN_ACTIVE"
)

type Route int

const (
	RouteToBot Route = iota
	RouteToAdmin
)

// Tracker derives state from live admin presence; nothing is persisted.
// Exactly one state is active per channel at any instant.
type Tracker struct {
	mu     sync.Mutex
	admins map[string]int

	onTransition func(channel string, state State)
}

// NewTracker creates a tracker. onTransition, if non-nil, fires once per
// observable state change (not per presence event).
func NewTracker(onTransition func(channel string, state State)) *Tracker {
	return &Tracker{
		admins:       make(map[string]int),
		onTransition: onTransition,
	}
}

// AdminEntered records an admin presence on the channel. Returns true iff
// this flipped the channel into AdminActive, i.e. the first admin arrived.
// Callers use the return to emit the one-time "admin joined" notice.
func (t *Tracker) AdminEntered(channel string) bool {
	t.mu.Lock()
	t.admins[channel]++
	changed := t.admins[channel] == 1
	t.mu.Unlock()

	if changed {
		slog.Info("handoff: admin active", "channel", channel)
		if t.onTransition != nil {
			t.onTransition(channel, AdminActive)
		}
	}
	return changed
}

// AdminLeft records an admin presence leaving, including ungraceful
// disconnects. Returns true iff the last admin left and the channel reverted
// to BotActive. Leaving an already-empty channel is a no-op.
func (t *Tracker) AdminLeft(channel string) bool {
	t.mu.Lock()
	n, ok := t.admins[channel]
	if !ok || n == 0 {
		t.mu.Unlock()
		return false
	}
	n--
	if n == 0 {
		delete(t.admins, channel)
	} else {
		t.admins[channel] = n
	}
	changed := n == 0
	t.mu.Unlock()

	if changed {
		slog.Info("handoff: bot active", "channel", channel)
		if t.onTransition != nil {
			t.onTransition(channel, BotActive)
		}
	}
	return changed
}

func (t *Tracker) State(channel string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.admins[channel] > 0 {
		return AdminActive
	}
	return BotActive
}

// Route is sampled once per inbound visitor message. A bot reply racing a
// concurrently attaching admin is accepted, not corrected.
func (t *Tracker) Route(channel string) Route {
	if t.State(channel) == AdminActive {
		return RouteToAdmin
	}
	return RouteToBot
}
