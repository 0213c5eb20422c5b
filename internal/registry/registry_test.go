package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchatly/livechat/internal/domain"
)

type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection reset")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = string(m)
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	failures int
}

func (o *recordingObserver) ConnectionAdded(string, domain.Role)   {}
func (o *recordingObserver) ConnectionRemoved(string, domain.Role) {}
func (o *recordingObserver) BroadcastFailure(string, domain.Role, error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *recordingObserver) failureCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

const ch = "live-chat:cb_1:sess_1"

func TestAddAndHasAdmin(t *testing.T) {
	r := New(nil)
	assert.False(t, r.HasAdmin(ch))

	visitor := &fakeConn{}
	r.Add(ch, domain.RoleVisitor, visitor)
	assert.False(t, r.HasAdmin(ch))

	admin := &fakeConn{}
	n := r.Add(ch, domain.RoleAdmin, admin)
	assert.Equal(t, 1, n)
	assert.True(t, r.HasAdmin(ch))
	assert.Equal(t, 1, r.AdminCount(ch))
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New(nil)
	admin := &fakeConn{}
	r.Add(ch, domain.RoleAdmin, admin)

	assert.Equal(t, 0, r.Remove(ch, domain.RoleAdmin, admin))
	// Repeated removal of an already-removed connection is a no-op.
	assert.Equal(t, 0, r.Remove(ch, domain.RoleAdmin, admin))
	assert.Equal(t, 0, r.Remove("live-chat:cb_1:ghost", domain.RoleAdmin, admin))
}

func TestChannelEntryDroppedWhenEmpty(t *testing.T) {
	r := New(nil)
	admin := &fakeConn{}
	visitor := &fakeConn{}
	r.Add(ch, domain.RoleAdmin, admin)
	r.Add(ch, domain.RoleVisitor, visitor)
	assert.Equal(t, 1, r.ChannelCount())

	r.Remove(ch, domain.RoleAdmin, admin)
	assert.Equal(t, 1, r.ChannelCount())

	r.Remove(ch, domain.RoleVisitor, visitor)
	assert.Equal(t, 0, r.ChannelCount())
}

func TestTryAddAdminExclusive(t *testing.T) {
	r := New(nil)
	first := &fakeConn{}
	second := &fakeConn{}

	assert.True(t, r.TryAddAdmin(ch, first))
	assert.False(t, r.TryAddAdmin(ch, second))
	assert.Equal(t, 1, r.AdminCount(ch))

	r.Remove(ch, domain.RoleAdmin, first)
	assert.True(t, r.TryAddAdmin(ch, second))
}

func TestBroadcastTargetsOneRole(t *testing.T) {
	r := New(nil)
	admin := &fakeConn{}
	v1 := &fakeConn{}
	v2 := &fakeConn{}
	r.Add(ch, domain.RoleAdmin, admin)
	r.Add(ch, domain.RoleVisitor, v1)
	r.Add(ch, domain.RoleVisitor, v2)

	delivered := r.Broadcast(ch, domain.RoleVisitor, []byte("hello"))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"hello"}, v1.messages())
	assert.Equal(t, []string{"hello"}, v2.messages())
	assert.Empty(t, admin.messages())
}

func TestBroadcastPreservesSenderOrder(t *testing.T) {
	r := New(nil)
	admin := &fakeConn{}
	r.Add(ch, domain.RoleAdmin, admin)

	r.Broadcast(ch, domain.RoleAdmin, []byte("a"))
	r.Broadcast(ch, domain.RoleAdmin, []byte("b"))

	assert.Equal(t, []string{"a", "b"}, admin.messages())
}

func TestBroadcastSurvivesBadPeer(t *testing.T) {
	obs := &recordingObserver{}
	r := New(obs)
	bad := &fakeConn{fail: true}
	good := &fakeConn{}
	r.Add(ch, domain.RoleVisitor, bad)
	r.Add(ch, domain.RoleVisitor, good)

	delivered := r.Broadcast(ch, domain.RoleVisitor, []byte("x"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"x"}, good.messages())
	assert.Equal(t, 1, obs.failureCount())

	// The dead peer was evicted; subsequent broadcasts do not retry it.
	delivered = r.Broadcast(ch, domain.RoleVisitor, []byte("y"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, obs.failureCount())
}

func TestBroadcastUnknownChannel(t *testing.T) {
	r := New(nil)
	assert.Equal(t, 0, r.Broadcast("live-chat:cb_9:none", domain.RoleVisitor, []byte("x")))
}

func TestConcurrentChurn(t *testing.T) {
	r := New(&recordingObserver{})
	var wg sync.WaitGroup

	channels := []string{
		"live-chat:cb_1:s1",
		"live-chat:cb_1:s2",
		"live-chat:cb_2:s1",
	}

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			channel := channels[i%len(channels)]
			role := domain.RoleVisitor
			if i%2 == 0 {
				role = domain.RoleAdmin
			}
			c := &fakeConn{}
			for j := 0; j < 100; j++ {
				r.Add(channel, role, c)
				r.Broadcast(channel, role.Opposite(), []byte("m"))
				r.HasAdmin(channel)
				r.Remove(channel, role, c)
			}
		}(i)
	}
	wg.Wait()

	for _, channel := range channels {
		require.False(t, r.HasAdmin(channel))
	}
	assert.Equal(t, 0, r.ChannelCount())
}
