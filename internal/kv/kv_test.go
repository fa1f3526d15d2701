package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/phonechat-go/internal/config"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "conv:a:turns", []byte("1")))
	require.NoError(t, s.Put(ctx, "conv:a:turns", []byte("2")))
	v, ok, err := s.Get(ctx, "conv:a:turns")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))

	require.NoError(t, s.Delete(ctx, "conv:a:turns"))
	_, ok, err = s.Get(ctx, "conv:a:turns")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "etcd"})
	require.Error(t, err)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Put(context.Background(), "k", buf))
	buf[0] = 'z'
	v, _, _ := m.Get(context.Background(), "k")
	require.Equal(t, "abc", string(v))
}

// TestRedisStore runs against a live server when PHONECHAT_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("PHONECHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PHONECHAT_TEST_REDIS_ADDR not set")
	}
	s, err := Open(config.StoreConfig{Driver: "redis", Redis: config.RedisConfig{Addr: addr, Prefix: "phonechat-test:"}})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenRedis_Unreachable(t *testing.T) {
	_, err := OpenRedis(config.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
