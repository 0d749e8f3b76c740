// Package ingest 把数据源抽取到的列表记录写入数据库：解码价格、写入商品、追加当日价格。
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"toytracker/internal/catalog"
	"toytracker/internal/model"
	"toytracker/internal/pkg/metrics"
	"toytracker/internal/pkg/notify"
	"toytracker/internal/pkg/pricefont"
	"toytracker/internal/store"

	"github.com/google/uuid"
)

// Store 入库流程依赖的存储接口。
type Store interface {
	UpsertProduct(ctx context.Context, p model.Platform, in *model.Product) (store.UpsertResult, error)
	AppendPrice(ctx context.Context, p model.Platform, entry *model.PriceHistory) (bool, error)
	LowestPrice(ctx context.Context, p model.Platform, productID uint, before string) (float64, bool, error)
}

// Options 入库配置。
type Options struct {
	Location    *time.Location   // "今天"所在时区，nil 时为 UTC+8
	SkipPresale bool             // 跳过预售/定金/尾款商品；为 false 时入库并标记 IsDeposit
	Notifier    notify.Notifier  // 关注商品降价通知，可为 nil
	Now         func() time.Time // 测试注入
}

// Batch 一次入库的输入：同一平台的一页或多页列表记录。
//
// Decoder 在一次运行中加载一次并显式传入；京东等明文价格的平台可以为 nil。
type Batch struct {
	Platform model.Platform
	Decoder  *pricefont.Decoder
	Listings []model.Listing
	ShopName string // 列表记录未带店铺信息时使用
	ShopURL  string
}

// Report 入库结果统计。
type Report struct {
	RunID          string         `json:"run_id"`
	Platform       model.Platform `json:"platform"`
	Day            string         `json:"day"`
	Seen           int            `json:"seen"`
	Created        int            `json:"created"`
	Updated        int            `json:"updated"`
	Appended       int            `json:"appended"`
	SkippedPresale int            `json:"skipped_presale"`
	Invalid        int            `json:"invalid"`
	DecodeFailures int            `json:"decode_failures"`
	Failures       int            `json:"failures"`
	Notified       int            `json:"notified"`
}

// Ingestor 逐条执行 解码 -> 写入商品 -> 追加价格。
type Ingestor struct {
	store       Store
	logger      *slog.Logger
	loc         *time.Location
	skipPresale bool
	notifier    notify.Notifier
	now         func() time.Time
}

// New 创建 Ingestor。
func New(st Store, logger *slog.Logger, opts Options) *Ingestor {
	loc := opts.Location
	if loc == nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ingestor{
		store:       st,
		logger:      logger,
		loc:         loc,
		skipPresale: opts.SkipPresale,
		notifier:    opts.Notifier,
		now:         now,
	}
}

// Ingest 处理一个批次。
//
// 单条记录的抽取、解码或存储失败只记录日志并计数，不会中断批次。
// 只有 ctx 被取消时才提前返回，此时 Report 包含已处理部分的统计。
//
// 参数:
//
//	ctx: 上下文
//	batch: 待入库的列表记录
//
// 返回值:
//
//	Report: 统计结果
//	error: ctx 取消时返回 ctx.Err()
func (i *Ingestor) Ingest(ctx context.Context, batch Batch) (Report, error) {
	start := i.now()
	report := Report{
		RunID:    uuid.NewString(),
		Platform: batch.Platform,
		Day:      start.In(i.loc).Format(store.DayFormat),
	}
	log := i.logger.With(
		slog.String("run_id", report.RunID),
		slog.String("platform", string(batch.Platform)),
	)
	platform := string(batch.Platform)
	defer func() {
		metrics.IngestBatchDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}()

	for idx := range batch.Listings {
		if err := ctx.Err(); err != nil {
			log.Warn("ingest interrupted", slog.Int("processed", report.Seen))
			return report, err
		}
		report.Seen++
		i.ingestOne(ctx, log, batch, &batch.Listings[idx], &report)
	}

	log.Info("ingest finished",
		slog.Int("seen", report.Seen),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("appended", report.Appended),
		slog.Int("skipped_presale", report.SkippedPresale),
		slog.Int("decode_failures", report.DecodeFailures),
		slog.Int("failures", report.Failures))
	return report, nil
}

func (i *Ingestor) ingestOne(ctx context.Context, log *slog.Logger, batch Batch, l *model.Listing, report *Report) {
	platform := string(batch.Platform)
	id := strings.TrimSpace(l.ExternalID)
	if id == "" {
		report.Invalid++
		metrics.IngestItemsTotal.WithLabelValues(platform, "invalid").Inc()
		log.Warn("listing without product id", slog.String("title", l.Title), slog.String("url", l.URL))
		return
	}

	title := strings.TrimSpace(l.Title)
	presale := catalog.IsPresale(title)
	if presale && i.skipPresale {
		report.SkippedPresale++
		metrics.IngestItemsTotal.WithLabelValues(platform, "skipped_presale").Inc()
		log.Debug("skip presale listing", slog.String("product_id", id), slog.String("title", title))
		return
	}

	price := ResolvePrice(batch.Decoder, l)
	status := model.StatusAvailable
	if l.Pending {
		status = model.StatusPending
	} else if price == 0 {
		report.DecodeFailures++
		metrics.PriceDecodeFailuresTotal.WithLabelValues(platform).Inc()
		log.Debug("price unresolved", slog.String("product_id", id), slog.String("raw", l.Price))
	}

	product := &model.Product{
		ProductID:  id,
		ProductURL: l.URL,
		ImageURL:   l.ImageURL,
		Title:      title,
		Price:      price,
		Status:     status,
		ShopName:   firstNonEmpty(l.ShopName, batch.ShopName),
		ShopURL:    firstNonEmpty(l.ShopURL, batch.ShopURL),
		StyleName:  catalog.StyleName(title),
		Level:      catalog.Level(title),
		IsDeposit:  presale,
	}
	res, err := i.store.UpsertProduct(ctx, batch.Platform, product)
	if err != nil {
		report.Failures++
		metrics.IngestItemsTotal.WithLabelValues(platform, "failed").Inc()
		log.Error("upsert product failed", slog.String("product_id", id), slog.String("error", err.Error()))
		return
	}
	product.ID = res.ID
	if res.Created {
		report.Created++
		metrics.IngestItemsTotal.WithLabelValues(platform, "created").Inc()
	} else {
		report.Updated++
		metrics.IngestItemsTotal.WithLabelValues(platform, "updated").Inc()
	}

	if price <= 0 {
		return
	}

	// 降价判断需要在写入今日价格之前取历史最低价
	var (
		previousLow float64
		hasPrevious bool
	)
	if res.Followed && i.notifier != nil {
		previousLow, hasPrevious, err = i.store.LowestPrice(ctx, batch.Platform, res.ID, report.Day)
		if err != nil {
			log.Warn("lookup lowest price failed", slog.String("product_id", id), slog.String("error", err.Error()))
			hasPrevious = false
		}
	}

	appended, err := i.store.AppendPrice(ctx, batch.Platform, &model.PriceHistory{
		ProductID:  res.ID,
		ProductURL: l.URL,
		Price:      price,
		StyleName:  product.StyleName,
		PriceDate:  report.Day,
	})
	if err != nil {
		report.Failures++
		metrics.IngestItemsTotal.WithLabelValues(platform, "failed").Inc()
		log.Error("append price failed", slog.String("product_id", id), slog.String("error", err.Error()))
		return
	}
	if !appended {
		return
	}
	report.Appended++
	metrics.PriceHistoryAppendedTotal.WithLabelValues(platform).Inc()

	if hasPrevious && price < previousLow {
		product.IsFollowed = true
		err := i.notifier.NotifyPriceDrop(ctx, notify.PriceDrop{
			Platform: batch.Platform,
			Product:  product,
			OldPrice: previousLow,
			NewPrice: price,
			Day:      report.Day,
		})
		if err != nil {
			metrics.PriceDropDetectedTotal.WithLabelValues("rejected").Inc()
			log.Warn("price drop notification failed", slog.String("product_id", id), slog.String("error", err.Error()))
			return
		}
		report.Notified++
		metrics.PriceDropDetectedTotal.WithLabelValues("queued").Inc()
	}
}

// ResolvePrice 计算列表记录的价格：待发布为 0，混淆价格用解码器还原，明文价格直接解析。
func ResolvePrice(d *pricefont.Decoder, l *model.Listing) float64 {
	if l.Pending {
		return 0
	}
	if l.Obfuscated {
		return d.Decode(l.Price)
	}
	return catalog.ParsePlainPrice(l.Price)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
