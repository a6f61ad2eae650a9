package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

// Get swallows a backend error into a miss — a flaky cache must never
// fail an extraction that would otherwise succeed.
func TestParseCache_GetSwallowsStoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCacheStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "fp1").Return(CacheEntry{}, false, errors.New("disk full"))

	cache := NewParseCache(store, true, 30)
	_, ok := cache.Get(context.Background(), "fp1")
	assert.False(t, ok)
}

// An entry past its ExpiresAt is treated as a miss even though the store
// call itself succeeded.
func TestParseCache_GetTreatsExpiredEntryAsMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCacheStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "fp2").Return(CacheEntry{
		Fingerprint: "fp2",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}, true, nil)

	cache := NewParseCache(store, true, 30)
	_, ok := cache.Get(context.Background(), "fp2")
	assert.False(t, ok)
}

// When disabled, ParseCache never touches the backing store at all.
func TestParseCache_DisabledNeverCallsStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCacheStore(ctrl) // no EXPECT() calls set — any call fails the test

	cache := NewParseCache(store, false, 30)
	_, ok := cache.Get(context.Background(), "fp3")
	assert.False(t, ok)
	cache.Put(context.Background(), CacheEntry{Fingerprint: "fp3"})
	cache.Delete(context.Background(), "fp3")
	count, err := cache.ReapExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

// Put stamps CreatedAt/ExpiresAt from the configured TTL rather than
// trusting whatever the caller set on entry.
func TestParseCache_PutStampsExpiryFromTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCacheStore(ctrl)

	var captured CacheEntry
	store.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, entry CacheEntry) error {
		captured = entry
		return nil
	})

	cache := NewParseCache(store, true, 7)
	cache.Put(context.Background(), CacheEntry{Fingerprint: "fp4"})

	assert.WithinDuration(t, captured.CreatedAt.Add(7*24*time.Hour), captured.ExpiresAt, time.Second)
}

// A Put failure is logged, not surfaced — caching stays best-effort.
func TestParseCache_PutFailureIsNonFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCacheStore(ctrl)
	store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(errors.New("write failed"))

	cache := NewParseCache(store, true, 30)
	cache.Put(context.Background(), CacheEntry{Fingerprint: "fp5"})
}

func TestParseCache_ReapExpiredDelegatesToStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCacheStore(ctrl)
	store.EXPECT().ReapExpired(gomock.Any()).Return(3, nil)

	cache := NewParseCache(store, true, 30)
	count, err := cache.ReapExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}
