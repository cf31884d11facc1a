package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)}
}

func TestSetGetDelete(t *testing.T) {
	m := New[string, int](4, 0)

	require.NoError(t, m.Set("a", 1))
	require.NoError(t, m.Set("b", 2))
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	require.NoError(t, m.Set("a", 10))
	v, _ = m.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, m.Len())

	m.Delete("a")
	m.Delete("missing")
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestTableFull(t *testing.T) {
	m := New[int, int](2, 0)
	require.NoError(t, m.Set(1, 1))
	require.NoError(t, m.Set(2, 2))
	assert.ErrorIs(t, m.Set(3, 3), core.ErrTableFull)
	// existing keys can still be refreshed
	assert.NoError(t, m.Set(2, 20))

	m.Delete(1)
	assert.NoError(t, m.Set(3, 3))
	assert.Equal(t, 2, m.Cap())
}

func TestExpiry(t *testing.T) {
	clk := newClock()
	m := New[core.IPv4, core.HardwareAddr](8, time.Minute, WithClock[core.IPv4, core.HardwareAddr](clk.Now))
	ip := core.IPv4{10, 0, 0, 1}
	mac := core.HardwareAddr{1, 2, 3, 4, 5, 6}
	require.NoError(t, m.Set(ip, mac))

	clk.Advance(time.Minute)
	got, ok := m.Get(ip)
	assert.True(t, ok, "entry is live at exactly the expiry boundary")
	assert.Equal(t, mac, got)

	clk.Advance(time.Second)
	_, ok = m.Get(ip)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())

	// a refresh revives the key
	require.NoError(t, m.Set(ip, mac))
	_, ok = m.Get(ip)
	assert.True(t, ok)
}

func TestExpiredSlotReused(t *testing.T) {
	clk := newClock()
	m := New[int, string](1, time.Second, WithClock[int, string](clk.Now))
	require.NoError(t, m.Set(1, "one"))
	assert.ErrorIs(t, m.Set(2, "two"), core.ErrTableFull)

	clk.Advance(2 * time.Second)
	require.NoError(t, m.Set(2, "two"))
	_, ok := m.Get(1)
	assert.False(t, ok)
	v, ok := m.Get(2)
	assert.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestForeachOrderAndStop(t *testing.T) {
	clk := newClock()
	m := New[int, int](4, time.Second, WithClock[int, int](clk.Now))
	require.NoError(t, m.Set(3, 30))
	clk.Advance(2 * time.Second)
	require.NoError(t, m.Set(1, 10))
	require.NoError(t, m.Set(2, 20))

	var keys []int
	m.Foreach(func(k, _ int, updated time.Time) bool {
		keys = append(keys, k)
		assert.Equal(t, clk.Now(), updated)
		return true
	})
	assert.Equal(t, []int{1, 2}, keys)

	keys = keys[:0]
	m.Foreach(func(k, _ int, _ time.Time) bool {
		keys = append(keys, k)
		return false
	})
	assert.Equal(t, []int{1}, keys)
}

func TestWithCopy(t *testing.T) {
	m := New[int, []byte](2, 0, WithCopy[int, []byte](func(b []byte) []byte {
		return append([]byte(nil), b...)
	}))
	src := []byte{1, 2, 3}
	require.NoError(t, m.Set(1, src))
	src[0] = 9
	v, _ := m.Get(1)
	assert.Equal(t, []byte{1, 2, 3}, v)
}
