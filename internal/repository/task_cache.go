package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-task-api/internal/models"
)

type cachedTaskRepository struct {
	base   TaskRepository
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedTaskRepository wraps a task catalog with a Redis read-through cache.
// A nil client returns base unchanged.
func NewCachedTaskRepository(base TaskRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) TaskRepository {
	if cache == nil {
		return base
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &cachedTaskRepository{
		base:   base,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "task_cache").Logger(),
	}
}

func taskCacheKey(id uint) string {
	return fmt.Sprintf("task:%d", id)
}

func (r *cachedTaskRepository) GetByID(ctx context.Context, id uint) (models.Task, error) {
	key := taskCacheKey(id)

	if cached, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		var task models.Task
		if unmarshalErr := json.Unmarshal(cached, &task); unmarshalErr == nil {
			r.logger.Debug().Uint("task_id", id).Msg("task cache hit")
			return task, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn().Err(err).Msg("failed to read task cache")
	}

	task, err := r.base.GetByID(ctx, id)
	if err != nil {
		return models.Task{}, err
	}

	if payload, err := json.Marshal(task); err == nil {
		if err := r.cache.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to store task cache")
		}
	}

	return task, nil
}

func (r *cachedTaskRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	if err := r.base.UpdateStatus(ctx, id, status); err != nil {
		return err
	}

	if err := r.cache.Del(ctx, taskCacheKey(id)).Err(); err != nil {
		r.logger.Warn().Err(err).Uint("task_id", id).Msg("failed to invalidate task cache")
	}
	return nil
}
