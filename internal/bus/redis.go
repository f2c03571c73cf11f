// Package bus fans out agent status updates over Redis pub/sub and keeps a
// short-lived per-task history. Every operation is best-effort: a missing or
// unhealthy Redis never fails the pipeline, it only drops notifications.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const historyTTL = 24 * time.Hour

// StatusMessage is one agent status update.
type StatusMessage struct {
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Bus publishes task status to task:<id> and global:tasks channels and
// mirrors every message into a capped history list.
type Bus struct {
	client *redis.Client
	log    *zap.Logger
}

// New connects to Redis. An empty URL or a bad DSN yields a disabled bus:
// publishes become no-ops, matching the fire-and-forget contract.
func New(redisURL string, log *zap.Logger) *Bus {
	if redisURL == "" {
		log.Info("redis disabled, status bus is a no-op")
		return &Bus{log: log}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, status bus disabled", zap.Error(err))
		return &Bus{log: log}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	return &Bus{client: redis.NewClient(opts), log: log}
}

// Enabled reports whether a Redis client is configured.
func (b *Bus) Enabled() bool {
	return b != nil && b.client != nil
}

// PublishStatus sends a status update for one agent. Failures are logged and
// swallowed.
func (b *Bus) PublishStatus(ctx context.Context, taskID, agentID, status string, details map[string]any) {
	if !b.Enabled() {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	msg := StatusMessage{
		TaskID:    taskID,
		AgentID:   agentID,
		Status:    status,
		Details:   details,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("failed to marshal status message", zap.Error(err))
		return
	}

	for _, channel := range []string{"task:" + taskID, "global:tasks"} {
		if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
			b.log.Warn("failed to publish status", zap.String("channel", channel), zap.Error(err))
		}
	}

	key := "history:" + taskID
	pipe := b.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Warn("failed to store task history", zap.String("task_id", taskID), zap.Error(err))
	}
}

// History returns the stored status messages for a task, newest first.
func (b *Bus) History(ctx context.Context, taskID string) ([]StatusMessage, error) {
	if !b.Enabled() {
		return nil, nil
	}
	raw, err := b.client.LRange(ctx, "history:"+taskID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	messages := make([]StatusMessage, 0, len(raw))
	for _, item := range raw {
		var msg StatusMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Health pings Redis.
func (b *Bus) Health(ctx context.Context) error {
	if !b.Enabled() {
		return nil
	}
	return b.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	if !b.Enabled() {
		return nil
	}
	return b.client.Close()
}
