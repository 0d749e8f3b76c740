package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestItemsTotal 按平台与结果统计入库条目（created / updated / skipped_presale / invalid / failed）。
	IngestItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toytracker_ingest_items_total",
		Help: "Listings processed by the ingestion pipeline, by platform and result.",
	}, []string{"platform", "result"})

	// PriceHistoryAppendedTotal 新增价格历史行数。
	PriceHistoryAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toytracker_price_history_appended_total",
		Help: "Price history rows inserted, by platform.",
	}, []string{"platform"})

	// PriceDecodeFailuresTotal 价格解码失败次数（解码结果为 0 且商品非待发布）。
	PriceDecodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toytracker_price_decode_failures_total",
		Help: "Listings whose price could not be resolved, by platform.",
	}, []string{"platform"})

	// IngestBatchDuration 单批次入库耗时。
	IngestBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toytracker_ingest_batch_duration_seconds",
		Help:    "Time spent ingesting one listing batch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})

	// CrawlPagesTotal 抓取页面数（status: ok / empty / blocked / login / error / deduplicated）。
	CrawlPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toytracker_crawl_pages_total",
		Help: "Listing pages fetched by the crawler, by platform and status.",
	}, []string{"platform", "status"})

	// CrawlPageDuration 单页抓取耗时。
	CrawlPageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toytracker_crawl_page_duration_seconds",
		Help:    "Time spent loading and extracting one listing page.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"platform"})

	// CrawlerBrowserInstances 当前浏览器实例数。
	CrawlerBrowserInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toytracker_crawler_browser_instances",
		Help: "Browser instances currently running.",
	})

	// RateLimitWaitDuration 限流等待时长。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "toytracker_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a page-load token.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toytracker_ratelimit_timeout_total",
		Help: "Page-load token waits abandoned because the context ended.",
	})

	// PriceDropNotificationsTotal 降价通知投递结果（sent / failed / dropped），由通知分发器记录。
	PriceDropNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toytracker_price_drop_notifications_total",
		Help: "Price drop notifications for followed products, by delivery result.",
	}, []string{"result"})

	// PriceDropDetectedTotal 入库时检测到的降价，按是否成功交给通知器统计（queued / rejected）。
	PriceDropDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toytracker_price_drop_detected_total",
		Help: "Price drops detected during ingestion, by notifier handoff result.",
	}, []string{"result"})
)
