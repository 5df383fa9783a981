package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/visibility_server/internal/model"
)

// Queue Redis 列表队列：waiting 列表 + delayed 有序集合 + active 哈希 + completed/failed 保留集合
type Queue struct {
	client    *redis.Client
	queueName string
	opts      Options
}

type Options struct {
	RemoveOnComplete bool // 完成后不保留记录
	RemoveOnFail     bool // 失败后不保留记录
}

type JobMessage struct {
	JobID       string                `json:"job_id"`
	SessionID   string                `json:"session_id"`
	Payload     model.TrackingPayload `json:"payload"`
	Attempt     int                   `json:"attempt"`
	MaxAttempts int                   `json:"max_attempts"`
	EnqueuedAt  time.Time             `json:"enqueued_at"`
}

// Stats 各状态任务数量
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func NewQueue(client *redis.Client, queueName string, opts Options) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
		opts:      opts,
	}
}

func (q *Queue) delayedKey() string   { return q.queueName + ":delayed" }
func (q *Queue) activeKey() string    { return q.queueName + ":active" }
func (q *Queue) completedKey() string { return q.queueName + ":completed" }
func (q *Queue) failedKey() string    { return q.queueName + ":failed" }

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞），取出的任务记为 active
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if err := q.client.HSet(ctx, q.activeKey(), msg.JobID, result[1]).Err(); err != nil {
		return nil, fmt.Errorf("failed to mark job active: %w", err)
	}

	return &msg, nil
}

// Retry 增加尝试次数并在 delay 后重新入队
func (q *Queue) Retry(ctx context.Context, msg *JobMessage, delay time.Duration) error {
	msg.Attempt++
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	runAt := time.Now().Add(delay)
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.activeKey(), msg.JobID)
	pipe.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: float64(runAt.UnixMilli()), Member: data})
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteDue 把到期的延迟任务移回等待队列，返回移动数量
func (q *Queue) PromoteDue(ctx context.Context, now time.Time, batch int64) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: batch,
	}).Result()
	if err != nil || len(due) == 0 {
		return 0, err
	}

	pipe := q.client.TxPipeline()
	for _, data := range due {
		pipe.LPush(ctx, q.queueName, data)
		pipe.ZRem(ctx, q.delayedKey(), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(due), nil
}

// Complete 任务成功结束
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.finish(ctx, jobID, q.completedKey(), q.opts.RemoveOnComplete)
}

// Fail 任务最终失败
func (q *Queue) Fail(ctx context.Context, jobID string) error {
	return q.finish(ctx, jobID, q.failedKey(), q.opts.RemoveOnFail)
}

func (q *Queue) finish(ctx context.Context, jobID, key string, remove bool) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.activeKey(), jobID)
	if !remove {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Trim 删除 before 之前结束的任务记录
func (q *Queue) Trim(ctx context.Context, before time.Time) (int64, error) {
	cutoff := strconv.FormatInt(before.UnixMilli(), 10)
	pipe := q.client.TxPipeline()
	completed := pipe.ZRemRangeByScore(ctx, q.completedKey(), "-inf", "("+cutoff)
	failed := pipe.ZRemRangeByScore(ctx, q.failedKey(), "-inf", "("+cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return completed.Val() + failed.Val(), nil
}

// Length 获取等待队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.queueName)
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.HLen(ctx, q.activeKey())
	completed := pipe.ZCard(ctx, q.completedKey())
	failed := pipe.ZCard(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return &Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}
