package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCmdable implements redisCmdable over an in-memory map.
type fakeCmdable struct {
	data map[string]string
	ttls map[string]time.Duration

	pingVal string
	pingErr error
	getErr  error
	setErr  error
	delErr  error
}

func newFakeCmdable() *fakeCmdable {
	return &fakeCmdable{
		data:    map[string]string{},
		ttls:    map[string]time.Duration{},
		pingVal: "PONG",
	}
}

func (f *fakeCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.pingErr != nil {
		cmd.SetErr(f.pingErr)
		return cmd
	}
	cmd.SetVal(f.pingVal)
	return cmd
}

func (f *fakeCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	val, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (f *fakeCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.delErr != nil {
		cmd.SetErr(f.delErr)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func newTestCache(client redisCmdable) *RedisCache {
	return &RedisCache{
		ttl:    30 * time.Second,
		cb:     NewCircuitBreaker("redis-test"),
		client: client,
	}
}

func TestRedisCache_GetHit(t *testing.T) {
	t.Parallel()

	fake := newFakeCmdable()
	fake.data["messages:v1"] = `[{"id":1}]`
	c := newTestCache(fake)

	val, ok := c.Get(context.Background(), "messages:v1")
	assert.True(t, ok)
	assert.Equal(t, `[{"id":1}]`, val)
}

func TestRedisCache_GetMiss(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeCmdable())

	val, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
	assert.Empty(t, val)
}

// A cache outage must read as a miss, never as a request failure.
func TestRedisCache_GetErrorDegradesToMiss(t *testing.T) {
	t.Parallel()

	fake := newFakeCmdable()
	fake.getErr = errors.New("connection refused")
	c := newTestCache(fake)

	_, ok := c.Get(context.Background(), "messages:v1")
	assert.False(t, ok)
}

func TestRedisCache_SetStoresWithTTL(t *testing.T) {
	t.Parallel()

	fake := newFakeCmdable()
	c := newTestCache(fake)

	c.Set(context.Background(), "messages:v1", "payload")

	assert.Equal(t, "payload", fake.data["messages:v1"])
	assert.Equal(t, 30*time.Second, fake.ttls["messages:v1"])
}

func TestRedisCache_SetErrorIsSilent(t *testing.T) {
	t.Parallel()

	fake := newFakeCmdable()
	fake.setErr = errors.New("connection refused")
	c := newTestCache(fake)

	// Must not panic or surface anything to the caller.
	c.Set(context.Background(), "messages:v1", "payload")
	assert.Empty(t, fake.data)
}

func TestRedisCache_Invalidate(t *testing.T) {
	t.Parallel()

	fake := newFakeCmdable()
	fake.data["messages:v1"] = "stale"
	c := newTestCache(fake)

	c.Invalidate(context.Background(), "messages:v1")
	assert.NotContains(t, fake.data, "messages:v1")
}

func TestRedisCache_Probe(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeCmdable())
	res := c.Probe(context.Background())

	assert.Equal(t, "redis", res.Name)
	assert.True(t, res.OK)
}

func TestRedisCache_ProbeRejectsUnexpectedResponse(t *testing.T) {
	t.Parallel()

	fake := newFakeCmdable()
	fake.pingVal = "LOADING"
	c := newTestCache(fake)

	res := c.Probe(context.Background())
	require.False(t, res.OK)
	assert.Contains(t, res.Error, "LOADING")
}

func TestRedisCache_ProbeCircuitOpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	fake := newFakeCmdable()
	fake.pingErr = errors.New("connection refused")
	c := newTestCache(fake)

	for i := range 3 {
		res := c.Probe(context.Background())
		assert.False(t, res.OK, "probe %d should fail", i+1)
		assert.NotEqual(t, "circuit open", res.Error, "probe %d should not be circuit-open yet", i+1)
	}

	res := c.Probe(context.Background())
	assert.False(t, res.OK)
	assert.Equal(t, "circuit open", res.Error)
}
