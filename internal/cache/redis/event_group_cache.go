package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

const eventGroupTTL = 5 * time.Minute

// groupEnvelope is the cached JSON shape: the group plus its member markets.
type groupEnvelope struct {
	Group   domain.EventGroup `json:"group"`
	Markets []string          `json:"markets"`
}

// EventGroupCache implements domain.EventGroupCache using Redis hashes with
// JSON-serialized group data.
//
// Key schema:
//
//	eg:{id} - hash with field "data" containing JSON
type EventGroupCache struct {
	rdb *redis.Client
}

// NewEventGroupCache creates an EventGroupCache backed by the given Client.
func NewEventGroupCache(c *Client) *EventGroupCache {
	return &EventGroupCache{rdb: c.Underlying()}
}

func egKey(id string) string { return "eg:" + id }

// Set stores an EventGroup and its member market IDs with a 5-minute TTL.
func (c *EventGroupCache) Set(ctx context.Context, group domain.EventGroup, marketIDs []string) error {
	data, err := json.Marshal(groupEnvelope{Group: group, Markets: marketIDs})
	if err != nil {
		return fmt.Errorf("redis: marshal event group %s: %w", group.ID, err)
	}

	key := egKey(group.ID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, eventGroupTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set event group %s: %w", group.ID, err)
	}
	return nil
}

// Get retrieves an EventGroup and its member market IDs by group ID.
// It returns domain.ErrNotFound when the key does not exist.
func (c *EventGroupCache) Get(ctx context.Context, id string) (domain.EventGroup, []string, error) {
	data, err := c.rdb.HGet(ctx, egKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EventGroup{}, nil, domain.ErrNotFound
		}
		return domain.EventGroup{}, nil, fmt.Errorf("redis: get event group %s: %w", id, err)
	}

	var env groupEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.EventGroup{}, nil, fmt.Errorf("redis: unmarshal event group %s: %w", id, err)
	}
	return env.Group, env.Markets, nil
}

// Invalidate removes an EventGroup from the cache.
func (c *EventGroupCache) Invalidate(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, egKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate event group %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventGroupCache = (*EventGroupCache)(nil)
