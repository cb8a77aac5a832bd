// Package retry 提供显式的重试策略对象。
//
// 策略（最大尝试次数、退避函数）与执行机制分离，
// 方便独立调参和测试，不和具体的投递通道绑在一起。
package retry

import (
	"context"
	"time"
)

// Policy 描述一个有界的指数退避重试策略。
type Policy struct {
	MaxAttempts int           // 最大尝试次数（含首次），<=0 时按 1 处理
	BaseDelay   time.Duration // 首次重试前的等待时间，之后逐次翻倍
	MaxDelay    time.Duration // 单次等待上限，0 表示不封顶
}

// Default 返回通知投递使用的默认策略：3 次尝试、1s 起步指数退避。
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay 返回第 attempt 次失败后的等待时间（attempt 从 0 开始）。
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do 按策略执行 op，直到成功、尝试耗尽或 ctx 被取消。
// 返回最后一次失败的错误；ctx 取消时返回 ctx.Err()。
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
