package ingest

import (
	"context"
	"io"
	"log/slog"

	"toytracker/internal/config"
	"toytracker/internal/model"
	"toytracker/internal/pkg/notify"
	"toytracker/internal/pkg/pricefont"
)

// NewFromConfig 按配置创建 Ingestor。开启降价通知且邮件配置齐全时挂载异步邮件通知器，
// 用完后需调用 Close 等待通知发送完毕。
func NewFromConfig(cfg *config.Config, st Store, logger *slog.Logger) *Ingestor {
	opts := Options{
		Location:    cfg.App.Location(),
		SkipPresale: cfg.Crawl.SkipPresale,
	}
	if cfg.App.NotifyPriceDrops {
		if n := notify.NewEmailNotifier(&cfg.Email, logger); n.Configured() {
			opts.Notifier = notify.NewDispatcher(n, logger, 2, 64)
		} else {
			logger.Info("price drop notification disabled: email not configured")
		}
	}
	return New(st, logger, opts)
}

// Close 等待异步通知发送完毕。没有挂载异步通知器时直接返回。
func (i *Ingestor) Close() error {
	if c, ok := i.notifier.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// LoadDecoder 加载天猫价格字体。路径为空或加载失败时返回 nil，此时混淆价格全部解码为 0。
func LoadDecoder(path string, logger *slog.Logger) *pricefont.Decoder {
	if path == "" {
		return nil
	}
	d, err := pricefont.LoadFile(path)
	if err != nil {
		logger.Warn("load price font failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	logger.Info("price font loaded", slog.String("path", path), slog.Int("glyphs", d.Len()))
	return d
}

// Batches 把按平台汇总的列表记录组装成入库批次，店铺信息取自配置，平台顺序固定。
func Batches(cfg config.CrawlConfig, listings map[model.Platform][]model.Listing, decoder *pricefont.Decoder) []Batch {
	var out []Batch
	for _, p := range model.Platforms() {
		items := listings[p]
		if len(items) == 0 {
			continue
		}
		b := Batch{Platform: p, Decoder: decoder, Listings: items}
		switch p {
		case model.PlatformJD:
			b.ShopName, b.ShopURL = cfg.JDShopName, cfg.JDShopURL
		case model.PlatformTmall:
			b.ShopName, b.ShopURL = cfg.TmallShopName, cfg.TmallShopURL
		}
		out = append(out, b)
	}
	return out
}

// IngestAll 依次处理多个批次。ctx 取消时返回已完成批次的统计与 ctx.Err()。
func (i *Ingestor) IngestAll(ctx context.Context, batches []Batch) ([]Report, error) {
	reports := make([]Report, 0, len(batches))
	for _, b := range batches {
		r, err := i.Ingest(ctx, b)
		reports = append(reports, r)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
