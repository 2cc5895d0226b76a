// Package store provides the valkey-backed key/value cache the job runner
// publishes live job-status projections into. Status pollers read this
// projection instead of hitting the inventory database on every poll.
package store

import (
	"context"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// KVStore defines the key/value operations the runner needs. It is an
// interface so tests can capture published snapshots without a server.
type KVStore interface {
	// SetValue sets key to value with no expiry.
	SetValue(ctx context.Context, key, value string) error
	// SetValueWithTTL sets key to value with a TTL in seconds.
	SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error
	// GetValue retrieves the value stored at key. ErrKeyNotFound-style
	// misses are returned as errors wrapping the key name.
	GetValue(ctx context.Context, key string) (string, error)
	// DeleteValue removes key.
	DeleteValue(ctx context.Context, key string) error
	// Close shuts down the underlying connection.
	Close() error
}

type valkeyStore struct {
	client valkey.Client
}

// NewValkeyStore connects to the valkey instance at addr (host:port).
func NewValkeyStore(addr string) (KVStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey at %s: %w", addr, err)
	}
	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) SetValue(ctx context.Context, key, value string) error {
	cmd := s.client.B().Set().Key(key).Value(value).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	cmd := s.client.B().Set().Key(key).Value(value).Ex(time.Duration(ttlSeconds) * time.Second).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) GetValue(ctx context.Context, key string) (string, error) {
	cmd := s.client.B().Get().Key(key).Build()
	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", fmt.Errorf("key %q not found", key)
		}
		return "", fmt.Errorf("valkey GET %q: %w", key, err)
	}
	val, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("convert valkey reply for %q: %w", key, err)
	}
	return val, nil
}

func (s *valkeyStore) DeleteValue(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey DEL %q: %w", key, err)
	}
	return nil
}

func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}
