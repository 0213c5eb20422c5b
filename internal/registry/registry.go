// Package registry holds the in-memory connection state for the self-hosted
// relay: per-channel sets of admin and visitor connections. Process-lifetime
// scope, no persistence; a reconnect is always a fresh entry.
package registry

import (
	"log/slog"
	"sync"

	"github.com/mchatly/livechat/internal/domain"
)

// Conn is the write side of a registered connection. The relay wraps the
// underlying websocket so sends are serialized and deadline-guarded.
type Conn interface {
	Send(data []byte) error
}

// Observer receives registry events. Broadcast failures surface here rather
// than being swallowed, so operators can detect a degrading relay.
type Observer interface {
	ConnectionAdded(channel string, role domain.Role)
	ConnectionRemoved(channel string, role domain.Role)
	BroadcastFailure(channel string, role domain.Role, err error)
}

type noopObserver struct{}

func (noopObserver) ConnectionAdded(string, domain.Role)         {}
func (noopObserver) ConnectionRemoved(string, domain.Role)       {}
func (noopObserver) BroadcastFailure(string, domain.Role, error) {}

type entry struct {
	admins   map[Conn]struct{}
	visitors map[Conn]struct{}
}

func (e *entry) set(role domain.Role) map[Conn]struct{} {
	if role == domain.RoleAdmin {
		return e.admins
	}
	return e.visitors
}

// Registry is safe for concurrent use. One mutex guards the channel map;
// critical sections only mutate maps, socket writes happen on a snapshot
// outside the lock.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*entry
	obs      Observer
}

func New(obs Observer) *Registry {
	if obs == nil {
		obs = noopObserver{}
	}
	return &Registry{
		channels: make(map[string]*entry),
		obs:      obs,
	}
}

// Add registers a connection and returns the number of connections of that
// role on the channel after the add.
func (r *Registry) Add(channel string, role domain.Role, c Conn) int {
	r.mu.Lock()
	e := r.getOrCreate(channel)
	set := e.set(role)
	set[c] = struct{}{}
	n := len(set)
	r.mu.Unlock()

	r.obs.ConnectionAdded(channel, role)
	slog.Debug("registry: connection added", "channel", channel, "role", role, "total", n)
	return n
}

// TryAddAdmin registers an admin connection only if the channel has no admin
// yet. Used by the exclusive admin-slot policy.
func (r *Registry) TryAddAdmin(channel string, c Conn) bool {
	r.mu.Lock()
	e := r.getOrCreate(channel)
	if len(e.admins) > 0 {
		r.mu.Unlock()
		return false
	}
	e.admins[c] = struct{}{}
	r.mu.Unlock()

	r.obs.ConnectionAdded(channel, domain.RoleAdmin)
	return true
}

// Remove deregisters a connection and returns the number of connections of
// that role remaining. Removing an unknown connection is a no-op. The channel
// entry is dropped once both roles are empty.
func (r *Registry) Remove(channel string, role domain.Role, c Conn) int {
	r.mu.Lock()
	e, ok := r.channels[channel]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	set := e.set(role)
	_, present := set[c]
	delete(set, c)
	remaining := len(set)
	if len(e.admins) == 0 && len(e.visitors) == 0 {
		delete(r.channels, channel)
	}
	r.mu.Unlock()

	if present {
		r.obs.ConnectionRemoved(channel, role)
		slog.Debug("registry: connection removed", "channel", channel, "role", role, "remaining", remaining)
	}
	return remaining
}

func (r *Registry) HasAdmin(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.channels[channel]
	return ok && len(e.admins) > 0
}

func (r *Registry) AdminCount(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.channels[channel]; ok {
		return len(e.admins)
	}
	return 0
}

// ChannelCount reports the number of live channel entries.
func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Broadcast fans data out to every connection of targetRole on the channel,
// best effort: a failed send is reported, the dead connection evicted, and
// delivery to the remaining connections continues. Returns the number of
// successful sends.
func (r *Registry) Broadcast(channel string, targetRole domain.Role, data []byte) int {
	r.mu.Lock()
	e, ok := r.channels[channel]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	set := e.set(targetRole)
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			r.obs.BroadcastFailure(channel, targetRole, err)
			r.Remove(channel, targetRole, c)
			continue
		}
		delivered++
	}
	return delivered
}

// caller must hold r.mu
func (r *Registry) getOrCreate(channel string) *entry {
	e, ok := r.channels[channel]
	if !ok {
		e = &entry{
			admins:   make(map[Conn]struct{}),
			visitors: make(map[Conn]struct{}),
		}
		r.channels[channel] = e
	}
	return e
}
