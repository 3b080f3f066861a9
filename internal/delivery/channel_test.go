package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jialangli/emotion-companion/internal/domain"
	"github.com/jialangli/emotion-companion/internal/presence"
)

type recordingConn struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *recordingConn) Push(_ context.Context, ev Event) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type mapResolver map[presence.ConnID]Conn

func (m mapResolver) Lookup(id presence.ConnID) (Conn, bool) {
	c, ok := m[id]
	return c, ok
}

func newTestChannel(reg *presence.Registry, res Resolver) *Channel {
	return NewChannel(reg, res, zap.NewNop(), 4)
}

func TestSend_OfflineIsNoop(t *testing.T) {
	reg := presence.NewRegistry()
	ch := newTestChannel(reg, mapResolver{})

	res := ch.Send(context.Background(), "ghost", NewCareMessage(domain.Care, "hi", time.Now()))
	assert.Equal(t, Result{}, res)
}

func TestSend_EveryConnectionOnce(t *testing.T) {
	reg := presence.NewRegistry()
	phone, laptop, other := &recordingConn{}, &recordingConn{}, &recordingConn{}
	reg.Register("a", "phone")
	reg.Register("a", "laptop")
	reg.Register("b", "other")

	ch := newTestChannel(reg, mapResolver{"phone": phone, "laptop": laptop, "other": other})
	ev := NewCareMessage(domain.Care, "miss you", time.Now())

	res := ch.Send(context.Background(), "a", ev)
	assert.Equal(t, Result{Attempted: 2, Delivered: 2}, res)
	assert.Equal(t, 1, phone.count())
	assert.Equal(t, 1, laptop.count())
	assert.Zero(t, other.count())
	require.Len(t, phone.events, 1)
	assert.Equal(t, EventCareMessage, phone.events[0].Type)
	assert.Equal(t, "miss you", phone.events[0].Content)
}

func TestSend_PartialFailure(t *testing.T) {
	reg := presence.NewRegistry()
	good, bad := &recordingConn{}, &recordingConn{err: errors.New("broken pipe")}
	reg.Register("a", "good")
	reg.Register("a", "bad")

	ch := newTestChannel(reg, mapResolver{"good": good, "bad": bad})
	res := ch.Send(context.Background(), "a", NewCareMessage(domain.Morning, "morning", time.Now()))

	assert.Equal(t, Result{Attempted: 2, Delivered: 1, Failed: 1}, res)
	assert.Equal(t, 1, good.count())
}

func TestSend_VanishedHandleIsSkipped(t *testing.T) {
	reg := presence.NewRegistry()
	live := &recordingConn{}
	reg.Register("a", "live")
	reg.Register("a", "gone")

	ch := newTestChannel(reg, mapResolver{"live": live})
	res := ch.Send(context.Background(), "a", NewCareMessage(domain.Evening, "night", time.Now()))

	assert.Equal(t, Result{Attempted: 1, Delivered: 1}, res)
}

func TestMultiResolver(t *testing.T) {
	a, b := &recordingConn{}, &recordingConn{}
	m := MultiResolver{nil, mapResolver{"a": a}, mapResolver{"b": b}}

	got, ok := m.Lookup("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = m.Lookup("c")
	assert.False(t, ok)
}
