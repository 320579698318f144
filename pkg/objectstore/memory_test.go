package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("some bytes")
	handle, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, HandleFor(data), handle)

	got, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Content addressing: identical bytes share one handle.
	again, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, handle, again)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIterPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutAt(ctx, "tool1/a.txt", []byte("a")))
	require.NoError(t, store.PutAt(ctx, "tool1/sub/b.txt", []byte("b")))
	require.NoError(t, store.PutAt(ctx, "tool2/c.txt", []byte("c")))

	objects, err := store.Iter(ctx, "tool1/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "tool1/a.txt", objects[0].Key)
	assert.Equal(t, "tool1/sub/b.txt", objects[1].Key)

	empty, err := store.Iter(ctx, "tool3/")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHandleForIsStable(t *testing.T) {
	a := HandleFor([]byte("payload"))
	b := HandleFor([]byte("payload"))
	c := HandleFor([]byte("other"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 64)
}
