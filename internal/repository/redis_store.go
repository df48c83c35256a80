package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "collab:doc:"

// RedisSnapshotStore keeps snapshots as JSON values under collab:doc:{id}.
type RedisSnapshotStore struct {
	client *redis.Client
}

// NewRedisSnapshotStore wraps an existing client.
func NewRedisSnapshotStore(client *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client}
}

func redisKey(documentID string) string {
	return redisKeyPrefix + documentID
}

func (s *RedisSnapshotStore) Load(ctx context.Context, documentID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, redisKey(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, documentID string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(documentID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
