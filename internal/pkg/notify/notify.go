package notify

import (
	"context"
)

// Notifier 定义通知接口。
type Notifier interface {
	// Send 发送一条通知。
	//
	// 参数:
	//   ctx: 上下文
	//   ownerID: 监控所属用户标识（邮件通知器将其视为收件地址）
	//   subject: 通知主题
	//   message: 通知正文（纯文本，可多行）
	Send(ctx context.Context, ownerID string, subject string, message string) error
}
