package buildcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/ocp/compiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKey(t *testing.T) {
	a := Key([]byte("expressions: . => \\1;"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Key([]byte("expressions: . => \\1;")))
	assert.NotEqual(t, a, Key([]byte("expressions: . => \\1; ")))
}

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "k", []byte{1, 2, 3}))
	data, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.NoError(t, c.Put(ctx, "k", []byte{4}))
	data, _, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, data)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProgramHitReturnsIdenticalBytes(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)

	src := []byte("input: 1; output: 2; expressions: `a` => @\"2D30;")
	p, err := compiler.Compile(string(src))
	require.NoError(t, err)
	key := Key(src)

	require.NoError(t, c.PutProgram(ctx, key, p))
	got, ok, err := c.Program(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(p))

	want, err := p.MarshalBinary()
	require.NoError(t, err)
	data, _, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestProgramDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)

	require.NoError(t, c.Put(ctx, "bad", []byte("not a program")))
	_, ok, err := c.Program(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok, "corrupt entry should have been deleted")
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	require.NoError(t, c.Close())

	c, err = Open(ctx, path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, path, c.Path())
	data, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)
	require.NoError(t, c.Put(ctx, "a", []byte("1")))
	require.NoError(t, c.Put(ctx, "b", []byte("2")))

	n, err := c.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}
