package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const progressTTL = 24 * time.Hour

// RunProgress is the externally visible state of one reconciliation run,
// persisted so status queries survive a restart of the API process.
type RunProgress struct {
	RunID        string    `json:"run_id"`
	State        string    `json:"state"`
	Updated      int       `json:"updated"`
	Failed       int       `json:"failed"`
	PriceChanged int       `json:"price_changed"`
	Cancelled    bool      `json:"cancelled"`
	Errors       []string  `json:"errors,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

// RedisStore tracks run progress and recently-checked SKUs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveProgress overwrites the progress record for a run. Progress expires
// after a day; finished runs are of no interest beyond that.
func (s *RedisStore) SaveProgress(ctx context.Context, p RunProgress) error {
	p.LastUpdated = time.Now().UTC()
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("run_progress:%s", p.RunID)
	return s.client.Set(ctx, key, payload, progressTTL).Err()
}

// GetProgress loads a run's progress. A missing run returns (nil, nil).
func (s *RedisStore) GetProgress(ctx context.Context, runID string) (*RunProgress, error) {
	key := fmt.Sprintf("run_progress:%s", runID)
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p RunProgress
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkChecked records that a SKU was priced during this window so a
// follow-up run can skip it unless forced.
func (s *RedisStore) MarkChecked(ctx context.Context, sku string, ttl time.Duration) error {
	key := fmt.Sprintf("checked:%s", sku)
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// IsRecentlyChecked reports whether a SKU was priced within the TTL.
func (s *RedisStore) IsRecentlyChecked(ctx context.Context, sku string) (bool, error) {
	key := fmt.Sprintf("checked:%s", sku)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
