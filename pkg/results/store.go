// Package results keeps finished batch summaries in redis so they can be
// fetched after the daemon processed a published batch.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sshpublish/pkg/upload"
)

const keyPrefix = "upload_summary:"

var ErrNotFound = errors.New("summary not found")

type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

func cacheKey(id string) string {
	return keyPrefix + id
}

func (s *Store) Save(ctx context.Context, id string, summary *upload.Summary) error {
	if id == "" {
		return fmt.Errorf("task id cannot be empty")
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	return s.client.Set(ctx, cacheKey(id), data, s.ttl).Err()
}

func (s *Store) Load(ctx context.Context, id string) (*upload.Summary, error) {
	result, err := s.client.Get(ctx, cacheKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var summary upload.Summary
	if err := json.Unmarshal([]byte(result), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &summary, nil
}
