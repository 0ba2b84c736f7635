package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

const (
	// TaskCacheTTL is short because the remote worker updates task status
	// without going through this service.
	TaskCacheTTL = 30 * time.Second
	// ProgressTTL bounds how long a finished or abandoned upload's progress is visible.
	ProgressTTL = 24 * time.Hour
)

// Progress is the latest upload percentage reported for a task.
type Progress struct {
	TaskID    string    `json:"task_id"`
	FileName  string    `json:"file_name"`
	Percent   int       `json:"percent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisClient wraps Redis operations with tracing
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func taskKey(taskID string) string     { return "task:" + taskID }
func progressKey(taskID string) string { return "progress:" + taskID }

// GetTask retrieves a cached task; a miss returns nil without error
func (rc *RedisClient) GetTask(ctx context.Context, taskID string) (*models.TranscriptionTask, error) {
	ctx, span := tracer.Start(ctx, "redis.get_task",
		trace.WithAttributes(attribute.String("task_id", taskID)),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache_hit", false))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var task models.TranscriptionTask
	if err := json.Unmarshal(data, &task); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached task: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache_hit", true))
	return &task, nil
}

// SetTask stores a task in cache
func (rc *RedisClient) SetTask(ctx context.Context, task *models.TranscriptionTask) error {
	ctx, span := tracer.Start(ctx, "redis.set_task",
		trace.WithAttributes(attribute.String("task_id", task.ID)),
	)
	defer span.End()

	data, err := json.Marshal(task)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := rc.client.Set(ctx, taskKey(task.ID), data, TaskCacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// InvalidateTask removes a task and its progress from cache
func (rc *RedisClient) InvalidateTask(ctx context.Context, taskID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_task",
		trace.WithAttributes(attribute.String("task_id", taskID)),
	)
	defer span.End()

	if err := rc.client.Del(ctx, taskKey(taskID), progressKey(taskID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// SetProgress records the latest upload percentage for a task
func (rc *RedisClient) SetProgress(ctx context.Context, taskID, fileName string, percent int) error {
	ctx, span := tracer.Start(ctx, "redis.set_progress",
		trace.WithAttributes(attribute.String("task_id", taskID), attribute.Int("percent", percent)),
	)
	defer span.End()

	key := progressKey(taskID)
	_, err := rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"file_name", fileName,
			"percent", percent,
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, ProgressTTL)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

// GetProgress returns the latest progress for a task or models.ErrNotFound
func (rc *RedisClient) GetProgress(ctx context.Context, taskID string) (*Progress, error) {
	ctx, span := tracer.Start(ctx, "redis.get_progress",
		trace.WithAttributes(attribute.String("task_id", taskID)),
	)
	defer span.End()

	fields, err := rc.client.HGetAll(ctx, progressKey(taskID)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}
	return parseProgress(taskID, fields)
}

func parseProgress(taskID string, fields map[string]string) (*Progress, error) {
	percent, err := strconv.Atoi(fields["percent"])
	if err != nil {
		return nil, fmt.Errorf("invalid progress percent %q: %w", fields["percent"], err)
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return &Progress{
		TaskID:    taskID,
		FileName:  fields["file_name"],
		Percent:   percent,
		UpdatedAt: updatedAt,
	}, nil
}
