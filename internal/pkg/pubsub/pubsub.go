package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/visibility_server/internal/model"
)

const (
	ChannelTrackingEvents = "tracking_events"
)

// 进度阶段常量
const (
	StepGenerate  = "generate"
	StepExecute   = "execute"
	StepAggregate = "aggregate"
	StepDone      = "done"
)

// 阶段开始时的进度百分比
var StepProgress = map[string]int{
	StepGenerate:  10,
	StepExecute:   30,
	StepAggregate: 90,
	StepDone:      100,
}

// 阶段对应的消息
var StepMessages = map[string]string{
	StepGenerate:  "Generating prompts",
	StepExecute:   "Querying AI model",
	StepAggregate: "Calculating metrics",
	StepDone:      "Tracking completed",
}

// StepFor 根据进度推断所处阶段
func StepFor(progress int) string {
	switch {
	case progress >= StepProgress[StepDone]:
		return StepDone
	case progress >= StepProgress[StepAggregate]:
		return StepAggregate
	case progress >= StepProgress[StepExecute]:
		return StepExecute
	default:
		return StepGenerate
	}
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish 发布会话事件
func (p *Publisher) Publish(ctx context.Context, ev *model.SessionEvent) error {
	// 自动填充阶段和消息
	if ev.Type == model.EventProgress {
		if ev.Step == "" {
			ev.Step = StepFor(ev.Progress)
		}
		if ev.Message == "" {
			ev.Message = StepMessages[ev.Step]
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	return p.client.Publish(ctx, ChannelTrackingEvents, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅会话事件，直到 ctx 取消；ready 在订阅确认后关闭（可为 nil）
func (s *Subscriber) Subscribe(ctx context.Context, ready chan<- struct{}, handler func(*model.SessionEvent)) error {
	pubsub := s.client.Subscribe(ctx, ChannelTrackingEvents)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev model.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue // 忽略解析错误
			}

			handler(&ev)
		}
	}
}
