package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"stockhunter/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知，ownerID 需为邮箱地址。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send 发送邮件通知。配置不全或 ownerID 不是邮箱时跳过而非报错。
func (n *EmailNotifier) Send(ctx context.Context, ownerID string, subject string, message string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	to := strings.TrimSpace(ownerID)
	if !strings.Contains(to, "@") {
		n.logger.Warn("owner is not an email address, skip notification", slog.String("owner", ownerID))
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "[StockHunter] "+subject)
	m.SetBody("text/html", n.buildHTMLBody(subject, message))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email notification sent", slog.String("to", to), slog.String("subject", subject))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(subject string, message string) string {
	var lines strings.Builder
	for _, line := range strings.Split(message, "\n") {
		lines.WriteString("<p style=\"margin: 4px 0;\">")
		lines.WriteString(htmlEscape(line))
		lines.WriteString("</p>\n")
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8" /></head>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb;">
    <div style="background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold;">[StockHunter] %s</div>
    <div style="padding: 20px;">
%s    </div>
  </div>
</body>
</html>`, htmlEscape(subject), lines.String())
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
