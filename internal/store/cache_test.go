package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type view struct {
	ID          uint64 `json:"id"`
	Description string `json:"description"`
}

func TestMemoryCacheMarketViews(t *testing.T) {
	cache, err := NewCache("", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	defer cache.Close()
	require.True(t, cache.IsInMemoryMode())

	ctx := context.Background()
	var got view
	assert.ErrorIs(t, cache.GetMarketView(ctx, 7, &got), ErrCacheMiss)

	require.NoError(t, cache.SetMarketView(ctx, 7, view{ID: 7, Description: "rain"}))
	require.NoError(t, cache.GetMarketView(ctx, 7, &got))
	assert.Equal(t, view{ID: 7, Description: "rain"}, got)

	exists, err := cache.Exists(ctx, marketViewKey(7))
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cache.InvalidateMarket(ctx, 7))
	assert.ErrorIs(t, cache.GetMarketView(ctx, 7, &got), ErrCacheMiss)
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := newMemoryStore()
	s.now = func() time.Time { return now }

	s.set("a", []byte("1"), time.Second)
	s.set("b", []byte("2"), 0)

	_, ok := s.get("a")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = s.get("a")
	assert.False(t, ok, "entry expires at its deadline")
	_, ok = s.get("b")
	assert.True(t, ok, "zero ttl never expires")
}

func TestInMemoryPubSub(t *testing.T) {
	cache := NewMemoryCache(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := cache.Subscribe(ctx, "amm:markets")
	other := cache.Subscribe(ctx, "amm:market:9")

	event := map[string]string{"type": "trade"}
	require.NoError(t, cache.Publish(ctx, "amm:markets", event))

	select {
	case msg := <-sub.Channel():
		require.NotNil(t, msg)
		assert.Equal(t, "amm:markets", msg.Channel)
		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, event, got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pubsub message")
	}

	select {
	case msg := <-other.Channel():
		t.Fatalf("unexpected message on other channel: %v", msg)
	default:
	}

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on context cancel")
	}
}
