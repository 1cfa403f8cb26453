package cache_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/leighmacdonald/pfp/internal/cache"
	"github.com/stretchr/testify/require"
)

func TestFsCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fsCache := cache.New(memfs.New(), time.Hour).WithClock(func() time.Time { return now })

	const key = "https://avatars.test/api/v1/steam/retrieve/1?default_enabled=true"

	var missing bytes.Buffer
	require.ErrorIs(t, fsCache.Get(cache.TypeAvatar, key, &missing), cache.ErrCacheExpired)

	require.NoError(t, fsCache.Set(cache.TypeAvatar, key, strings.NewReader("first value")))
	require.NoError(t, fsCache.Set(cache.TypeAvatar, key, strings.NewReader("second")))

	var fresh bytes.Buffer
	require.NoError(t, fsCache.Get(cache.TypeAvatar, key, &fresh))
	require.Equal(t, "second", fresh.String())

	now = now.Add(time.Hour * 2)

	var stale bytes.Buffer
	require.ErrorIs(t, fsCache.Get(cache.TypeAvatar, key, &stale), cache.ErrCacheExpired)

	require.NoError(t, fsCache.Delete(cache.TypeAvatar, key))
	require.NoError(t, fsCache.Delete(cache.TypeAvatar, key))
}

func TestNopCache(t *testing.T) {
	var nop cache.NopCache

	require.NoError(t, nop.Set(cache.TypeAvatar, "k", strings.NewReader("v")))

	var buf bytes.Buffer
	require.ErrorIs(t, nop.Get(cache.TypeAvatar, "k", &buf), cache.ErrCacheExpired)
}
