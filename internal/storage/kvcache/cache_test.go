package kvcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/depot/internal/common"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open("", common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGetDelete(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("k", []byte("v"), 0))

	v, found, err := c.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, c.Delete("k"))
	_, found, err = c.Get("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetIfAbsent(t *testing.T) {
	c := newTestCache(t)

	set, err := c.SetIfAbsent("mark", []byte("first"), 0)
	require.NoError(t, err)
	assert.True(t, set)

	// A second write loses and leaves the existing value untouched.
	set, err = c.SetIfAbsent("mark", []byte("second"), 0)
	require.NoError(t, err)
	assert.False(t, set)

	v, found, err := c.Get("mark")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("first"), v)
}

func TestSetIfAbsentAfterExpiry(t *testing.T) {
	c := newTestCache(t)

	set, err := c.SetIfAbsent("mark", []byte("1"), time.Second)
	require.NoError(t, err)
	assert.True(t, set)

	time.Sleep(1100 * time.Millisecond)

	// An expired entry no longer blocks the write.
	set, err = c.SetIfAbsent("mark", []byte("2"), 0)
	require.NoError(t, err)
	assert.True(t, set)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("ephemeral", []byte("1"), time.Second))

	ok, err := c.Has("ephemeral")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(1100 * time.Millisecond)

	ok, err = c.Has("ephemeral")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanPrefix(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("revoked:token:a", []byte("1"), 0))
	require.NoError(t, c.Set("revoked:token:b", []byte("1"), 0))
	require.NoError(t, c.Set("revoked:user:u1", []byte("1"), 0))

	keys, err := c.ScanPrefix("revoked:token:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
