package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRedis is a mock for the redis client
type MockRedis struct {
	mock.Mock
}

func (m *MockRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return redis.NewStringResult(args.String(0), args.Error(1))
}

func (m *MockRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return redis.NewStatusResult("OK", args.Error(0))
}

func (m *MockRedis) Close() error {
	return m.Called().Error(0)
}

func TestEmbeddingCache_Get_Hit(t *testing.T) {
	client := new(MockRedis)
	client.On("Get", mock.Anything, keyPrefix+"abc").Return("[0.6,0.8]", nil)
	c := newEmbeddingCache(client, time.Hour, nil)

	vec, ok, err := c.Get(context.Background(), "abc")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.6, 0.8}, vec)
}

func TestEmbeddingCache_Get_Miss(t *testing.T) {
	client := new(MockRedis)
	client.On("Get", mock.Anything, keyPrefix+"abc").Return("", redis.Nil)
	c := newEmbeddingCache(client, 0, nil)

	vec, ok, err := c.Get(context.Background(), "abc")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, vec)
}

func TestEmbeddingCache_Get_Errors(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		err     error
		wantErr string
	}{
		{"connection", "", errors.New("connection refused"), "failed to get embedding cache"},
		{"garbage", "not json", nil, "failed to unmarshal embedding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockRedis)
			client.On("Get", mock.Anything, mock.Anything).Return(tt.value, tt.err)
			c := newEmbeddingCache(client, 0, nil)

			_, ok, err := c.Get(context.Background(), "k")

			assert.False(t, ok)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEmbeddingCache_Set(t *testing.T) {
	client := new(MockRedis)
	client.On("Set", mock.Anything, keyPrefix+"abc", []byte("[1,0]"), DefaultTTL).Return(nil)
	c := newEmbeddingCache(client, 0, nil)

	err := c.Set(context.Background(), "abc", []float32{1, 0})

	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestEmbeddingCache_Set_Error(t *testing.T) {
	client := new(MockRedis)
	client.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("READONLY"))
	c := newEmbeddingCache(client, time.Minute, nil)

	err := c.Set(context.Background(), "abc", []float32{1})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set embedding cache")
}

func TestNewEmbeddingCache_InvalidURL(t *testing.T) {
	_, err := NewEmbeddingCache(context.Background(), "http://not-redis", time.Hour, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis url")
}
