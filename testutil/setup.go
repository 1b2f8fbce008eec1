package testutil

import (
	"testing"

	"github.com/mizutama/loreforge/server/cache"
	"github.com/mizutama/loreforge/server/config"
	dbadapter "github.com/mizutama/loreforge/server/db"
	"github.com/mizutama/loreforge/server/store"
	"github.com/stretchr/testify/require"
)

// SetupTestStore creates an initialized in-memory Store. It requires no
// external services and is safe to use in parallel tests. pubsub may be nil.
func SetupTestStore(t *testing.T, pubsub cache.PubSub) *store.Store {
	t.Helper()
	st := store.Open(config.DatabaseConfig{Mode: dbadapter.ModeMemory}, pubsub, nil)
	require.NoError(t, st.Initialize(), "SetupTestStore: Initialize")
	t.Cleanup(func() { _ = st.Shutdown() })
	return st
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.Config{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}
