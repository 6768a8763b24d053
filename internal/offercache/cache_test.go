package offercache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/offer-ingest/shared/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type offer struct {
	ExternalID string   `json:"external_id"`
	Benefits   []string `json:"benefits"`
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := New(store, time.Minute, slog.New(slog.DiscardHandler))

	var got offer
	hit, err := cache.Get(ctx, "X1", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "X1", offer{ExternalID: "X1", Benefits: []string{"Remote"}}))
	assert.Equal(t, time.Minute, store.ttls["job_offer:X1"])

	hit, err = cache.Get(ctx, "X1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"Remote"}, got.Benefits)

	require.NoError(t, cache.Invalidate(ctx, "X1"))
	hit, err = cache.Get(ctx, "X1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_UndecodableEntry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.data[Key("X1")] = []byte("{broken")
	cache := New(store, time.Minute, slog.New(slog.DiscardHandler))

	var got offer
	hit, err := cache.Get(ctx, "X1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotContains(t, store.data, Key("X1"))
}

func TestCache_BackendError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	cache := New(store, time.Minute, slog.New(slog.DiscardHandler))

	var got offer
	_, err := cache.Get(context.Background(), "X1", &got)
	assert.ErrorContains(t, err, "connection refused")
}
