package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MultiDeviceSequence(t *testing.T) {
	r := NewRegistry()

	r.Register("u", "c1")
	r.Register("u", "c2")
	assert.True(t, r.IsOnline("u"))
	assert.Equal(t, 2, r.ConnectionCount("u"))

	user, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, 1, r.ConnectionCount("u"))
	assert.True(t, r.IsOnline("u"))

	_, ok = r.Unregister("c2")
	require.True(t, ok)
	assert.False(t, r.IsOnline("u"))
	assert.Empty(t, r.OnlineUsers())
	assert.Zero(t, r.Stats().OnlineUserCount)
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Register("u", "c1"))
	assert.False(t, r.Register("u", "c1"))
	assert.Equal(t, 1, r.ConnectionCount("u"))
	assert.Equal(t, 1, r.Stats().TotalConnectionCount)
}

func TestRegistry_RebindMovesConnection(t *testing.T) {
	r := NewRegistry()

	r.Register("a", "c1")
	r.Register("b", "c1")

	assert.False(t, r.IsOnline("a"))
	assert.True(t, r.IsOnline("b"))
	user, ok := r.UserOf("c1")
	require.True(t, ok)
	assert.Equal(t, "b", user)
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Unregister("ghost")
	assert.False(t, ok)
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry()
	r.Register("X", "x1")
	r.Register("Y", "y1")
	r.Register("Y", "y2")
	r.Register("Z", "z1")

	st := r.Stats()
	assert.Equal(t, 3, st.OnlineUserCount)
	assert.Equal(t, 4, st.TotalConnectionCount)
	assert.Equal(t, []UserConnections{
		{UserID: "X", ConnectionCount: 1},
		{UserID: "Y", ConnectionCount: 2},
		{UserID: "Z", ConnectionCount: 1},
	}, st.Users)
}

func TestRegistry_ConnectionsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("u", "c2")
	r.Register("u", "c1")

	snap := r.Connections("u")
	assert.Equal(t, []ConnID{"c1", "c2"}, snap)

	r.Unregister("c1")
	assert.Len(t, snap, 2, "snapshot must not change after unregister")
	assert.Nil(t, r.Connections("nobody"))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := ConnID(fmt.Sprintf("c%d", i))
			r.Register(fmt.Sprintf("u%d", i%5), conn)
			_ = r.Stats()
			if i%2 == 0 {
				r.Unregister(conn)
			}
		}(i)
	}
	wg.Wait()

	st := r.Stats()
	assert.Equal(t, 25, st.TotalConnectionCount)
	for _, u := range st.Users {
		assert.Positive(t, u.ConnectionCount)
	}
}
