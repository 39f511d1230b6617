package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlotLimiter_Validates(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	_, err := NewSlotLimiter(nil, "p:", 1, time.Second)
	assert.Error(t, err)
	_, err = NewSlotLimiter(rdb, "p:", 0, time.Second)
	assert.Error(t, err)
	_, err = NewSlotLimiter(rdb, "p:", 1, 0)
	assert.Error(t, err)

	l, err := NewSlotLimiter(rdb, "p:", 2, time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, l.Release(context.Background(), ""))
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
