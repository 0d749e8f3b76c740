package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"toytracker/internal/config"
	"toytracker/internal/model"
	"toytracker/internal/pkg/logger"

	"gopkg.in/gomail.v2"
)

func TestFormatYuan(t *testing.T) {
	tests := map[float64]string{
		0:       "0",
		299:     "299",
		1299.5:  "1,299.50",
		1234567: "1,234,567",
	}
	for in, want := range tests {
		if got := formatYuan(in); got != want {
			t.Errorf("formatYuan(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildHTMLBody_EscapesTitle(t *testing.T) {
	body := buildHTMLBody(PriceDrop{
		Platform: model.PlatformTmall,
		Product:  &model.Product{Title: "<b>擎天柱</b>", ProductURL: "https://detail.tmall.com/item.htm?id=1"},
		OldPrice: 399,
		NewPrice: 299,
		Day:      "2024-05-01",
	})
	if strings.Contains(body, "<b>擎天柱</b>") {
		t.Fatalf("title should be escaped")
	}
	if !strings.Contains(body, "¥ 399 → ¥ 299") {
		t.Fatalf("price line missing: %s", body)
	}
	if !strings.Contains(body, "天猫") {
		t.Fatalf("platform label missing")
	}
}

func TestNotifyPriceDrop_SkipsWhenUnconfigured(t *testing.T) {
	n := NewEmailNotifier(&config.EmailConfig{}, logger.Discard())
	called := false
	n.send = func(*gomail.Message) error {
		called = true
		return nil
	}
	if err := n.NotifyPriceDrop(context.Background(), PriceDrop{Product: &model.Product{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("send should not be called without config")
	}
}

func TestNotifyPriceDrop_Sends(t *testing.T) {
	cfg := &config.EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPUser: "u", FromEmail: "from@example.com", ToEmail: "to@example.com"}
	n := NewEmailNotifier(cfg, logger.Discard())

	var sent *gomail.Message
	n.send = func(m *gomail.Message) error {
		sent = m
		return nil
	}
	drop := PriceDrop{Platform: model.PlatformJD, Product: &model.Product{ProductID: "123", Title: "MP-44"}, OldPrice: 399, NewPrice: 299}
	if err := n.NotifyPriceDrop(context.Background(), drop); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sent == nil {
		t.Fatalf("message not sent")
	}
	if got := sent.GetHeader("To"); len(got) != 1 || got[0] != "to@example.com" {
		t.Fatalf("unexpected recipient: %v", got)
	}

	n.send = func(*gomail.Message) error { return errors.New("dial failed") }
	if err := n.NotifyPriceDrop(context.Background(), drop); err == nil {
		t.Fatalf("expected send error")
	}
}
