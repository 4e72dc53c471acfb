package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisSeenCache_Seen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisSeenCache(db, time.Hour)
	ctx := context.TODO()
	key := cache.key("https://example.com/a")

	mock.ExpectExists(key).SetVal(1)
	seen, err := cache.Seen(ctx, "https://example.com/a")
	assert.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectExists(key).SetVal(0)
	seen, err = cache.Seen(ctx, "https://example.com/a")
	assert.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectExists(key).SetErr(errors.New("redis error"))
	_, err = cache.Seen(ctx, "https://example.com/a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis exists")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedisSeenCache_Remember(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisSeenCache(db, 48*time.Hour)
	ctx := context.TODO()
	key := cache.key("https://example.com/b")

	mock.ExpectSet(key, "1", 48*time.Hour).SetVal("OK")
	assert.NoError(t, cache.Remember(ctx, "https://example.com/b"))

	mock.ExpectSet(key, "1", 48*time.Hour).SetErr(errors.New("redis error"))
	err := cache.Remember(ctx, "https://example.com/b")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis set")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedisSeenCache_KeyIsStableAndPrefixed(t *testing.T) {
	cache := NewRedisSeenCache(nil, time.Hour)

	a := cache.key("https://example.com/a")
	assert.Equal(t, a, cache.key("https://example.com/a"))
	assert.NotEqual(t, a, cache.key("https://example.com/b"))
	assert.Contains(t, a, defaultKeyPrefix)
	assert.Len(t, a, len(defaultKeyPrefix)+40)
}
