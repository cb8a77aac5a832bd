package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"stockhunter/internal/model"
	"stockhunter/internal/pkg/metrics"
	"stockhunter/internal/pkg/retry"
	"stockhunter/internal/snapshot"
)

// Dispatcher 将一次轮询产生的告警合并成一条通知并带重试地发出。
//
// 发送语义是 at-most-once：重试只覆盖单次轮询周期内的失败，
// 耗尽后记录日志放弃，不落盘重投。
type Dispatcher struct {
	notifiers []Notifier
	policy    retry.Policy
	logger    *slog.Logger
}

// NewDispatcher 创建告警分发器。notifiers 为空时 Dispatch 为空操作。
func NewDispatcher(logger *slog.Logger, policy retry.Policy, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		policy:    policy,
		logger:    logger,
	}
}

// Dispatch 格式化并发送告警。所有通知器都失败时返回第一个错误。
func (d *Dispatcher) Dispatch(ctx context.Context, product *model.Product, alerts []snapshot.Alert) error {
	if len(alerts) == 0 || len(d.notifiers) == 0 {
		return nil
	}

	for _, a := range alerts {
		metrics.AlertsTotal.WithLabelValues(string(a.Kind)).Inc()
	}

	subject := fmt.Sprintf("%s · %d update(s)", product.Name, len(alerts))
	message := FormatAlerts(product, alerts)

	var firstErr error
	for _, n := range d.notifiers {
		err := d.policy.Do(ctx, func(ctx context.Context) error {
			sendErr := n.Send(ctx, product.OwnerID, subject, message)
			if sendErr != nil {
				metrics.NotifyAttemptsTotal.WithLabelValues("retry").Inc()
			}
			return sendErr
		})
		if err != nil {
			metrics.NotifyAttemptsTotal.WithLabelValues("failed").Inc()
			d.logger.Error("notification failed after retries",
				slog.String("product", product.ID),
				slog.String("owner", product.OwnerID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.NotifyAttemptsTotal.WithLabelValues("ok").Inc()
	}
	return firstErr
}

// FormatAlerts 将告警渲染成人类可读的多行文本，每条告警一行。
func FormatAlerts(product *model.Product, alerts []snapshot.Alert) string {
	lines := make([]string, 0, len(alerts))
	for _, a := range alerts {
		lines = append(lines, formatAlert(product, a))
	}
	return strings.Join(lines, "\n")
}

func formatAlert(product *model.Product, a snapshot.Alert) string {
	switch a.Kind {
	case snapshot.AlertRestock:
		return fmt.Sprintf("🔔 Restock: %q color %s size %s is back in stock (%s, $%.2f)",
			product.Name, a.Color, a.Size, a.Availability, a.NewPrice)
	case snapshot.AlertPriceChange:
		return fmt.Sprintf("💸 Price change: %q color %s size %s $%.2f → $%.2f",
			product.Name, a.Color, a.Size, a.OldPrice, a.NewPrice)
	case snapshot.AlertNewSize:
		return fmt.Sprintf("🆕 New size: %q color %s now lists size %s ($%.2f)",
			product.Name, a.Color, a.Size, a.NewPrice)
	case snapshot.AlertNewColor:
		return fmt.Sprintf("🎨 New color: %q now lists color %s",
			product.Name, a.Color)
	default:
		return fmt.Sprintf("Update on %q: color %s size %s", product.Name, a.Color, a.Size)
	}
}
