package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Rrens/codeshare/internal/access"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// GrantStore keeps share-password grants with a TTL
type GrantStore struct {
	client *Client
}

// NewGrantStore creates a new grant store
func NewGrantStore(client *Client) *GrantStore {
	return &GrantStore{client: client}
}

// Put stores a grant, replacing any previous one
func (s *GrantStore) Put(ctx context.Context, userID, workspaceID uuid.UUID, level access.Level, ttl time.Duration) error {
	if err := s.client.rdb.Set(ctx, s.key(userID, workspaceID), int(level), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}
	return nil
}

// Get returns the live grant, or LevelNone
func (s *GrantStore) Get(ctx context.Context, userID, workspaceID uuid.UUID) (access.Level, error) {
	raw, err := s.client.rdb.Get(ctx, s.key(userID, workspaceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return access.LevelNone, nil
		}
		return access.LevelNone, fmt.Errorf("failed to read grant: %w", err)
	}

	level, err := strconv.Atoi(raw)
	if err != nil {
		return access.LevelNone, fmt.Errorf("invalid grant value %q: %w", raw, err)
	}

	return access.Level(level), nil
}

// Revoke removes every grant for a workspace, e.g. after its share passwords change
func (s *GrantStore) Revoke(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	pattern := s.client.key("grant", "*", workspaceID.String())
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := s.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := s.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

func (s *GrantStore) key(userID, workspaceID uuid.UUID) string {
	return s.client.key("grant", userID.String(), workspaceID.String())
}
