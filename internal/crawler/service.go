package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"toytracker/internal/config"
	"toytracker/internal/model"
	"toytracker/internal/pkg/dedup"
	"toytracker/internal/pkg/metrics"
	"toytracker/internal/pkg/ratelimit"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	browserInitTimeout = 30 * time.Second        // 浏览器初始化超时
	waitLoadTimeout    = 30 * time.Second        // 等待页面 load 事件
	scrollWaitInterval = 1500 * time.Millisecond // 每次滚动后的等待
	scrollOffset       = 600                     // 每次滚动像素

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// 图片与媒体资源不影响列表解析，屏蔽以减少流量。
var blockedURLs = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.avif",
	"*.mp4", "*.webm", "*.mp3",
	"*google-analytics*",
	"*doubleclick*",
}

// Service 通过 rod 驱动 Chromium 抓取列表页。
//
// 所有页面串行加载：每页先经过去重与限流，再打开新标签页、滚动触发懒加载，
// 最后把页面 HTML 交给 goquery 抽取。
type Service struct {
	browser     *rod.Browser
	limiter     ratelimit.Limiter
	dedup       *dedup.Deduplicator
	logger      *slog.Logger
	pageTimeout time.Duration
	scrollSteps int
	userAgent   string
}

// NewService 启动浏览器实例并创建服务。
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象，使用 browser 与 crawl 两节
//	logger: 日志记录器
//	limiter: 页面限流器，可为 nil
//	dd: 页面去重器，可为 nil
//
// 返回值:
//
//	*Service: 初始化完成的服务实例
//	error: 如果浏览器启动失败则返回错误
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger, limiter ratelimit.Limiter, dd *dedup.Deduplicator) (*Service, error) {
	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	browser, err := startBrowser(initCtx, cfg.Browser, logger)
	if err != nil {
		return nil, err
	}
	metrics.CrawlerBrowserInstances.Inc()

	pageTimeout := time.Duration(cfg.Browser.PageTimeout) * time.Second
	if pageTimeout <= 0 {
		pageTimeout = 60 * time.Second
	}
	logger.Info("crawler service initialized",
		slog.Duration("page_timeout", pageTimeout),
		slog.Int("scroll_steps", cfg.Crawl.ScrollSteps))

	return &Service{
		browser:     browser,
		limiter:     limiter,
		dedup:       dd,
		logger:      logger,
		pageTimeout: pageTimeout,
		scrollSteps: cfg.Crawl.ScrollSteps,
		userAgent:   defaultUserAgent,
	}, nil
}

func startBrowser(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-blink-features", "AutomationControlled")
	// 保留登录态：京东与天猫的店铺页未登录时会跳转登录页
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}

	var proxyUser, proxyPass string
	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", cfg.ProxyURL)
		}
		l = l.Proxy(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			proxyPass, _ = parsed.User.Password()
		}
		logger.Info("using http proxy", slog.String("server", parsed.Host))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}
	// 连接建立后解除初始化超时的绑定
	browser = browser.Context(context.Background())

	logger.Info("browser started", slog.String("bin", bin), slog.Bool("headless", cfg.Headless))
	return browser, nil
}

// Fetch 抓取一个列表页。
//
// 去重窗口内已抓取的页面返回 ErrPageSeen；登录页、验证页等拦截页返回错误，
// 失败的页面会从去重记录中移除以便下次重试。
func (s *Service) Fetch(ctx context.Context, req PageRequest) ([]model.Listing, error) {
	start := time.Now()
	listings, err := s.fetch(ctx, req)
	platform := string(req.Platform)
	metrics.CrawlPagesTotal.WithLabelValues(platform, classifyCrawlStatus(err, len(listings))).Inc()
	metrics.CrawlPageDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	return listings, err
}

func (s *Service) fetch(ctx context.Context, req PageRequest) ([]model.Listing, error) {
	log := s.logger.With(slog.String("platform", string(req.Platform)), slog.Int("page", req.Page))

	dup, err := s.dedup.IsDuplicate(ctx, req.URL)
	if err != nil {
		log.Warn("dedup check failed", slog.String("error", err.Error()))
	} else if dup {
		return nil, ErrPageSeen
	}
	done := false
	defer func() {
		if !done {
			if err := s.dedup.Delete(context.Background(), req.URL); err != nil {
				log.Warn("dedup rollback failed", slog.String("error", err.Error()))
			}
		}
	}()

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("wait rate limit: %w", err)
		}
	}

	snap, err := s.loadPage(ctx, log, req.URL)
	if err != nil {
		return nil, err
	}
	if kind := detectBlockType(snap.title, snap.url, snap.html); kind != "" {
		log.Warn("blocked page detected",
			slog.String("block_type", kind),
			slog.String("title", snap.title),
			slog.String("actual_url", snap.url))
		return nil, &blockedError{kind: kind}
	}

	listings, err := ParseListings(req.Platform, strings.NewReader(snap.html), snap.url)
	if err != nil {
		return nil, fmt.Errorf("extract listings: %w", err)
	}
	if len(listings) == 0 && isNoItemsPage(snap.html) {
		log.Info("no items on page", slog.String("url", req.URL))
	}
	done = true
	return listings, nil
}

type pageSnapshot struct {
	title string
	url   string
	html  string
}

func (s *Service) loadPage(ctx context.Context, log *slog.Logger, target string) (*pageSnapshot, error) {
	base, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page failed: %w", err)
	}
	defer func() {
		_ = base.Close()
	}()

	if _, err := base.EvalOnNewDocument(stealth.JS); err != nil {
		return nil, fmt.Errorf("apply stealth script: %w", err)
	}
	if err := (proto.NetworkSetBlockedURLs{Urls: blockedURLs}).Call(base); err != nil {
		log.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}

	page := base.Timeout(s.pageTimeout)
	defer page.CancelTimeout()
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.userAgent}); err != nil {
		log.Warn("set user agent failed", slog.String("error", err.Error()))
	}

	log.Info("loading page", slog.String("url", target))
	if err := page.Navigate(target); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	loadCtx, loadCancel := context.WithTimeout(ctx, waitLoadTimeout)
	if err := page.Context(loadCtx).WaitLoad(); err != nil {
		log.Warn("WaitLoad failed, continuing anyway", slog.String("error", err.Error()))
	}
	loadCancel()

	if err := s.scroll(ctx, page); err != nil {
		return nil, err
	}

	snap := &pageSnapshot{}
	if info, err := page.Info(); err == nil {
		snap.title = info.Title
		snap.url = info.URL
	}
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	snap.html = html
	return snap, nil
}

// scroll 分步滚动触发懒加载，结束后回到顶部。
func (s *Service) scroll(ctx context.Context, page *rod.Page) error {
	for i := 0; i < s.scrollSteps; i++ {
		if _, err := page.Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, scrollOffset)); err != nil {
			return fmt.Errorf("scroll page: %w", err)
		}
		timer := time.NewTimer(scrollWaitInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if s.scrollSteps > 0 {
		_, _ = page.Eval(`() => window.scrollTo(0, 0)`)
	}
	return nil
}

// Close 关闭浏览器。
func (s *Service) Close() error {
	if s == nil || s.browser == nil {
		return nil
	}
	metrics.CrawlerBrowserInstances.Dec()
	return s.browser.Close()
}
