package odm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubEntity(model, id string) *Entity {
	return &Entity{
		info: &modelInfo{name: model, collection: model + "s"},
		sem:  make(chan struct{}, 1),
		id:   id,
	}
}

func TestEntityCache(t *testing.T) {
	t.Parallel()
	c := NewEntityCache()
	a := stubEntity("post", "1")

	require.NoError(t, c.Put(a))
	assert.Same(t, a, c.Get("post", "1"))
	assert.Nil(t, c.Get("tag", "1"))
	assert.Equal(t, 1, c.Len())

	var cerr *CacheError
	require.ErrorAs(t, c.Put(stubEntity("post", "1")), &cerr)
	assert.Equal(t, "put", cerr.Op)

	dup := stubEntity("post", "1")
	assert.Same(t, a, c.loadOrStore(dup))
	b := stubEntity("post", "2")
	assert.Same(t, b, c.loadOrStore(b))

	assert.True(t, IsCacheError(c.Remove(dup)), "only the cached instance is removed")
	assert.True(t, IsCacheError(c.Remove(stubEntity("post", ""))))
	require.NoError(t, c.Remove(a))
	assert.Nil(t, c.Get("post", "1"))
	assert.True(t, IsCacheError(c.Remove(a)))

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestCacheKey(t *testing.T) {
	t.Parallel()
	k := CacheKey{
		Collection: "posts",
		Operation:  "find",
		Predicates: "status = published",
		OrderBy:    "publish_time DESC",
		Limit:      10,
		Offset:     20,
	}
	assert.Equal(t, "posts:find:status = published:publish_time DESC:10:20", k.String())
	assert.Equal(t, "posts:", CachePrefix("posts"))
	assert.Contains(t, k.String(), CachePrefix(k.Collection))
}

func TestMemoryCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	t.Run("TTL", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "posts:a", []byte("1"), time.Minute))
		require.NoError(t, c.Set(ctx, "posts:b", []byte("2"), 0))

		v, err := c.Get(ctx, "posts:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)

		now = now.Add(time.Minute)
		v, err = c.Get(ctx, "posts:a")
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = c.Get(ctx, "posts:b")
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), v, "zero ttl never expires")
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "posts:c", []byte("3"), 0))
		require.NoError(t, c.Set(ctx, "tags:a", []byte("4"), 0))
		require.NoError(t, c.DeletePrefix(ctx, CachePrefix("posts")))

		v, err := c.Get(ctx, "posts:c")
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = c.Get(ctx, "tags:a")
		require.NoError(t, err)
		assert.NotNil(t, v)
	})

	t.Run("DeleteAndClear", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "tags:a"))
		v, err := c.Get(ctx, "tags:a")
		require.NoError(t, err)
		assert.Nil(t, v)

		require.NoError(t, c.Set(ctx, "x", []byte("5"), 0))
		require.NoError(t, c.Clear(ctx))
		v, err = c.Get(ctx, "x")
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}
