package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultFeedChannel 是调度变更事件的默认 Redis 频道。
const DefaultFeedChannel = "stockhunter:schedules:events"

// FeedOp 表示一条调度变更事件的操作类型。
type FeedOp string

const (
	FeedUpsert FeedOp = "upsert" // 新建或状态/表达式变化
	FeedDelete FeedOp = "delete" // 条目被删除
)

// ScheduleEvent 是 API 层发布、编排器消费的调度变更事件。
//
// 事件只是"去数据库重新核对这个条目"的提示，payload 里的字段用于
// 快路径；编排器收到后仍以数据库为准，错过事件由周期性对账兜底。
type ScheduleEvent struct {
	Op         FeedOp `json:"op"`
	ScheduleID string `json:"scheduleId"`
	ProductID  string `json:"productId,omitempty"`
}

// Feed wraps Redis pub/sub for schedule change events.
type Feed struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewFeed creates a schedule event feed on the given channel.
func NewFeed(rdb *redis.Client, channel string, logger *slog.Logger) *Feed {
	if channel == "" {
		channel = DefaultFeedChannel
	}
	return &Feed{rdb: rdb, channel: channel, logger: logger}
}

// Publish 发布一条调度变更事件。发布失败只记日志不影响主流程，
// 因为对账循环最终会修正。
func (f *Feed) Publish(ctx context.Context, ev ScheduleEvent) error {
	if f == nil || f.rdb == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal schedule event: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("publish schedule event: %w", err)
	}
	return nil
}

// Subscribe 订阅调度变更事件，返回事件通道。ctx 取消后通道关闭。
//
// 反序列化失败的消息会被跳过并记日志，不中断订阅。
func (f *Feed) Subscribe(ctx context.Context) (<-chan ScheduleEvent, error) {
	if f == nil || f.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}

	sub := f.rdb.Subscribe(ctx, f.channel)
	// 确认订阅建立，失败时尽早暴露连接问题。
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	out := make(chan ScheduleEvent, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ScheduleEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.logger.Warn("drop malformed schedule event", slog.String("payload", msg.Payload))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
