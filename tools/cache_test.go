package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string]string
	failGet bool
}

func (m *mapCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := m.entries[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (m *mapCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func countingTool(t *testing.T, calls *int) Tool {
	t.Helper()
	tool, err := NewFunction("count", "Counts calls.", func(ctx context.Context, args echoArgs) (string, error) {
		*calls++
		return "seen " + args.Text, nil
	})
	require.NoError(t, err)
	return tool
}

func TestWithCacheMemoizes(t *testing.T) {
	calls := 0
	cache := &mapCache{entries: map[string]string{}}
	tool := WithCache(countingTool(t, &calls), cache, time.Minute, nil)

	args := json.RawMessage(`{"text":"a"}`)
	for i := 0; i < 3; i++ {
		out, err := tool.Call(context.Background(), args)
		require.NoError(t, err)
		assert.Equal(t, "seen a", out)
	}
	assert.Equal(t, 1, calls)

	_, err := tool.Call(context.Background(), json.RawMessage(`{"text":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, cache.entries, 2)
}

func TestWithCacheFallsThroughOnFailure(t *testing.T) {
	calls := 0
	tool := WithCache(countingTool(t, &calls), &mapCache{entries: map[string]string{}, failGet: true}, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := tool.Call(context.Background(), json.RawMessage(`{"text":"a"}`))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestWithCacheNil(t *testing.T) {
	calls := 0
	base := countingTool(t, &calls)
	assert.Same(t, base, WithCache(base, nil, time.Minute, nil))
}

func TestCacheKeyStable(t *testing.T) {
	a := cacheKey("query_database", json.RawMessage(`{"query":"SELECT 1"}`))
	assert.Equal(t, a, cacheKey("query_database", json.RawMessage(`{"query":"SELECT 1"}`)))
	assert.NotEqual(t, a, cacheKey("web_search", json.RawMessage(`{"query":"SELECT 1"}`)))
}
