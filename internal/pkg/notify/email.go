package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"toytracker/internal/config"
	"toytracker/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// Configured 报告 SMTP 与收件人是否齐全。
func (n *EmailNotifier) Configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != "" &&
		strings.TrimSpace(n.cfg.ToEmail) != ""
}

// NotifyPriceDrop 发送降价邮件。配置不完整时只记录警告。
func (n *EmailNotifier) NotifyPriceDrop(ctx context.Context, drop PriceDrop) error {
	if !n.Configured() {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if drop.Product == nil {
		return fmt.Errorf("price drop without product")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", buildSubject(drop))
	m.SetBody("text/html", buildHTMLBody(drop))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("price drop email sent",
		slog.String("to", n.cfg.ToEmail),
		slog.String("platform", string(drop.Platform)),
		slog.String("product_id", drop.Product.ProductID))
	return nil
}

func buildSubject(drop PriceDrop) string {
	return fmt.Sprintf("[降价提醒] %s ¥%s", platformLabel(drop.Platform), formatYuan(drop.NewPrice))
}

func platformLabel(p model.Platform) string {
	switch p {
	case model.PlatformJD:
		return "京东"
	case model.PlatformTmall:
		return "天猫"
	}
	return string(p)
}

func buildHTMLBody(drop PriceDrop) string {
	p := drop.Product
	priceLine := fmt.Sprintf("¥ %s → ¥ %s 📉", formatYuan(drop.OldPrice), formatYuan(drop.NewPrice))

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .hero img { width: 100%%; max-width: 520px; display: block; margin: 0 auto 16px; border-radius: 8px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 16px; }
  .cta { display: inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">%s 关注商品降价</div>
    <div class="content">
      <div class="hero"><img src="%s" alt="商品图片" /></div>
      <div class="price">%s</div>
      <div class="title">%s</div>
      <div style="text-align:center; margin-bottom: 12px;">
        <a class="cta" href="%s" target="_blank">查看商品</a>
      </div>
      <div class="footer">%s · %s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		platformLabel(drop.Platform),
		html.EscapeString(p.ImageURL),
		priceLine,
		html.EscapeString(p.Title),
		html.EscapeString(p.ProductURL),
		html.EscapeString(p.Level),
		drop.Day,
	)
}

// formatYuan 格式化人民币金额：千分位，整数价格不带小数。
func formatYuan(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	n := len(intPart)
	out := make([]byte, 0, n+n/3)
	for i, ch := range []byte(intPart) {
		out = append(out, ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, ',')
		}
	}
	if frac != "00" {
		return string(out) + "." + frac
	}
	return string(out)
}
