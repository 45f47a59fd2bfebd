package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/tradeprep/internal/config"
	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/pkg/models"
)

const keyPrefix = "tradeprep:progress:"

// CategoryResolver maps item ids to their category
type CategoryResolver interface {
	CategoryOf(ctx context.Context, ids []string) (map[string]string, error)
}

// ProgressStore keeps each user's schedule states in one Redis hash, field per item
type ProgressStore struct {
	client *redis.Client
	items  CategoryResolver
	log    *logger.Logger
}

// Connect creates a Redis client and checks that the server answers
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewProgressStore wraps client. items is consulted to filter states by category.
func NewProgressStore(client *redis.Client, items CategoryResolver, log *logger.Logger) *ProgressStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &ProgressStore{client: client, items: items, log: log.With("component", "redis_progress")}
}

func key(userID string) string {
	return keyPrefix + userID
}

func (s *ProgressStore) all(ctx context.Context, userID string) (map[string]models.ScheduleState, error) {
	raw, err := s.client.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}

	states := make(map[string]models.ScheduleState, len(raw))
	for itemID, value := range raw {
		var st models.ScheduleState
		if err := json.Unmarshal([]byte(value), &st); err != nil {
			s.log.Warn("skipping unreadable progress entry", "user_id", userID, "item_id", itemID, "error", err)
			continue
		}
		states[itemID] = st
	}
	return states, nil
}

// categoriesOf resolves the categories of the items in states. Items that no longer
// exist are missing from the result.
func (s *ProgressStore) categoriesOf(ctx context.Context, states map[string]models.ScheduleState) (map[string]string, error) {
	if len(states) == 0 {
		return map[string]string{}, nil
	}
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	categories, err := s.items.CategoryOf(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve item categories: %w", err)
	}
	return categories, nil
}

// GetForUser returns the schedule of every item in category the user has answered
func (s *ProgressStore) GetForUser(ctx context.Context, userID, category string) (map[string]models.ScheduleState, error) {
	states, err := s.all(ctx, userID)
	if err != nil {
		return nil, err
	}
	categories, err := s.categoriesOf(ctx, states)
	if err != nil {
		return nil, err
	}

	for id := range states {
		if categories[id] != category {
			delete(states, id)
		}
	}
	return states, nil
}

// Upsert overwrites the state of one item. Repeating a write is harmless.
func (s *ProgressStore) Upsert(ctx context.Context, userID, itemID string, state models.ScheduleState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := s.client.HSet(ctx, key(userID), itemID, value).Err(); err != nil {
		return fmt.Errorf("failed to write progress: %w", err)
	}
	return nil
}

// CountDue returns how many of the user's items are due at now. States left behind
// by deleted items are not counted.
func (s *ProgressStore) CountDue(ctx context.Context, userID string, now time.Time) (int, error) {
	states, err := s.all(ctx, userID)
	if err != nil {
		return 0, err
	}
	categories, err := s.categoriesOf(ctx, states)
	if err != nil {
		return 0, err
	}
	return countDue(states, categories, now), nil
}

func countDue(states map[string]models.ScheduleState, categories map[string]string, now time.Time) int {
	n := 0
	for id, st := range states {
		if _, ok := categories[id]; ok && !st.DueAt.After(now) {
			n++
		}
	}
	return n
}

// DeleteForUser forgets all of a user's progress
func (s *ProgressStore) DeleteForUser(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}
