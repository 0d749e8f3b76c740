package notify

import (
	"context"

	"toytracker/internal/model"
)

// PriceDrop 描述一次关注商品的降价。
type PriceDrop struct {
	Platform model.Platform
	Product  *model.Product
	OldPrice float64 // 此前记录的最低价
	NewPrice float64 // 今日价格
	Day      string  // YYYY-MM-DD
}

// Notifier 定义通知接口。
type Notifier interface {
	// NotifyPriceDrop 发送降价通知。
	//
	// 参数:
	//   ctx: 上下文
	//   drop: 降价信息
	NotifyPriceDrop(ctx context.Context, drop PriceDrop) error
}
