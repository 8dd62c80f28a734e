// Package testutil provides test helpers shared by the risk engine packages
package testutil

import (
	"path"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// MockRedis is an in-process Redis for the reputation cache and rate limiter
// tests. Its clock only moves through FastForward.
type MockRedis struct {
	mini   *miniredis.Miniredis
	client *redis.Client
}

// StartMockRedis starts a mock Redis that is shut down when the test ends
func StartMockRedis(t testing.TB) *MockRedis {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mini.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return &MockRedis{mini: mini, client: client}
}

// Client returns a go-redis client connected to the mock
func (m *MockRedis) Client() *redis.Client {
	return m.client
}

// Mini returns the underlying miniredis instance for direct manipulation
func (m *MockRedis) Mini() *miniredis.Miniredis {
	return m.mini
}

// FastForward advances the mock clock, expiring keys whose TTL has passed
func (m *MockRedis) FastForward(d time.Duration) error {
	m.mini.FastForward(d)
	return nil
}

// GetString reads a string key without going through the client
func (m *MockRedis) GetString(key string) (string, bool) {
	v, err := m.mini.Get(key)
	if err != nil {
		return "", false
	}
	return v, true
}

// Keys returns the keys matching a glob pattern such as "reputation:*"
func (m *MockRedis) Keys(pattern string) ([]string, error) {
	var out []string
	for _, k := range m.mini.Keys() {
		if ok, err := path.Match(pattern, k); err != nil {
			return nil, err
		} else if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// Close stops the server abruptly so clients see connection errors
func (m *MockRedis) Close() {
	m.mini.Close()
}
