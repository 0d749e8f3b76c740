package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Browser  BrowserConfig  `json:"browser"`
	Crawl    CrawlConfig    `json:"crawl"`
	Email    EmailConfig    `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`                // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`          // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`          // API 服务监听地址
	MetricsAddr      string        `json:"metrics_addr"`       // 爬虫 metrics 监听地址（为空则不启动）
	Timezone         string        `json:"timezone"`           // "今天"的时区，默认 Asia/Shanghai
	NewItemDuration  time.Duration `json:"new_item_duration"`  // 新品标记持续时间（如 "72h"）
	RateLimit        float64       `json:"rate_limit"`         // 页面加载限流速率（token/s）
	RateBurst        float64       `json:"rate_burst"`         // 限流桶容量
	RateLimitKey     string        `json:"rate_limit_key"`     // Redis 限流 key
	DedupWindow      int           `json:"dedup_window"`       // 页面去重窗口（秒）
	NotifyPriceDrops bool          `json:"notify_price_drops"` // 关注商品降价时是否发送邮件
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // sqlite / mysql
	Path   string `json:"path"`   // SQLite 文件路径
	DSN    string `json:"dsn"`    // MySQL 连接字符串
}

// RedisConfig Redis 配置，Addr 为空表示不使用 Redis（限流与去重退化为进程内实现）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// BrowserConfig 爬虫浏览器配置。
type BrowserConfig struct {
	BinPath     string `json:"bin_path"`     // 浏览器可执行文件路径
	ProxyURL    string `json:"proxy_url"`    // 代理服务器 URL
	Headless    bool   `json:"headless"`     // 是否使用无头模式
	PageTimeout int    `json:"page_timeout"` // 单页超时（秒）
	UserDataDir string `json:"user_data_dir"`
}

// CrawlConfig 抓取目标配置。
type CrawlConfig struct {
	JDShopName     string   `json:"jd_shop_name"`
	JDShopURL      string   `json:"jd_shop_url"`
	JDPageURL      string   `json:"jd_page_url"` // 含一个 %d 页码占位符
	JDPages        int      `json:"jd_pages"`
	TmallShopName  string   `json:"tmall_shop_name"`
	TmallShopURL   string   `json:"tmall_shop_url"`
	TmallPageURLs  []string `json:"tmall_page_urls"` // 分类页地址，逐页追加 pageNo
	TmallPages     int      `json:"tmall_pages"`
	TmallFontPath  string   `json:"tmall_font_path"` // 价格混淆字体或 JSON 映射
	ScrollSteps    int      `json:"scroll_steps"`
	SkipPresale    bool     `json:"skip_presale"` // 跳过预售/定金/尾款商品
	MaxItemsPerRun int      `json:"max_items_per_run"`
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"` // 降价通知收件人
}

// Location 解析配置的时区，失败时退回 UTC+8。
func (a AppConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(a.Timezone); err == nil && a.Timezone != "" {
		return loc
	}
	return time.FixedZone("CST", 8*3600)
}

// Load 从 JSON 文件加载配置。
//
// 它会先加载工作目录下的 .env（不存在则忽略），再读取 configs/config.json，
// 文件不存在时使用默认值。环境变量优先级最高。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	_ = godotenv.Load()

	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":8080",
			MetricsAddr:      "",
			Timezone:         "Asia/Shanghai",
			NewItemDuration:  72 * time.Hour,
			RateLimit:        0.2,
			RateBurst:        1,
			RateLimitKey:     "toytracker:ratelimit:page",
			DedupWindow:      1800,
			NotifyPriceDrops: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/transformers.db",
		},
		Browser: BrowserConfig{
			Headless:    true,
			PageTimeout: 60,
		},
		Crawl: CrawlConfig{
			JDShopName:    "孩之宝京东自营旗舰店",
			JDShopURL:     "https://mall.jd.com/index-1000386161.html",
			JDPageURL:     "https://mall.jd.com/view_search-396211-17821117-99-1-20-%d.html",
			JDPages:       5,
			TmallShopName: "变形金刚玩具旗舰店",
			TmallShopURL:  "https://transformers.tmall.com",
			TmallPageURLs: []string{
				"https://transformers.tmall.com/category.htm",
			},
			TmallPages:     3,
			TmallFontPath:  "data/tmall_price.woff",
			ScrollSteps:    8,
			SkipPresale:    true,
			MaxItemsPerRun: 500,
		},
		Email: EmailConfig{
			SMTPHost: "smtp.qq.com",
			SMTPPort: 587,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.Timezone == "" {
		cfg.App.Timezone = defaults.App.Timezone
	}
	if cfg.App.NewItemDuration == 0 {
		cfg.App.NewItemDuration = defaults.App.NewItemDuration
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.RateLimitKey == "" {
		cfg.App.RateLimitKey = defaults.App.RateLimitKey
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Crawl.JDShopName == "" {
		cfg.Crawl.JDShopName = defaults.Crawl.JDShopName
	}
	if cfg.Crawl.JDShopURL == "" {
		cfg.Crawl.JDShopURL = defaults.Crawl.JDShopURL
	}
	if cfg.Crawl.JDPageURL == "" {
		cfg.Crawl.JDPageURL = defaults.Crawl.JDPageURL
	}
	if cfg.Crawl.JDPages == 0 {
		cfg.Crawl.JDPages = defaults.Crawl.JDPages
	}
	if cfg.Crawl.TmallShopName == "" {
		cfg.Crawl.TmallShopName = defaults.Crawl.TmallShopName
	}
	if cfg.Crawl.TmallShopURL == "" {
		cfg.Crawl.TmallShopURL = defaults.Crawl.TmallShopURL
	}
	if len(cfg.Crawl.TmallPageURLs) == 0 {
		cfg.Crawl.TmallPageURLs = defaults.Crawl.TmallPageURLs
	}
	if cfg.Crawl.TmallPages == 0 {
		cfg.Crawl.TmallPages = defaults.Crawl.TmallPages
	}
	if cfg.Crawl.TmallFontPath == "" {
		cfg.Crawl.TmallFontPath = defaults.Crawl.TmallFontPath
	}
	if cfg.Crawl.ScrollSteps == 0 {
		cfg.Crawl.ScrollSteps = defaults.Crawl.ScrollSteps
	}
	if cfg.Crawl.MaxItemsPerRun == 0 {
		cfg.Crawl.MaxItemsPerRun = defaults.Crawl.MaxItemsPerRun
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_TIMEZONE"); v != "" {
		cfg.App.Timezone = v
	}
	if v := os.Getenv("APP_NEW_ITEM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.NewItemDuration = d
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DedupWindow = i
		}
	}
	if v := os.Getenv("APP_NOTIFY_PRICE_DROPS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.NotifyPriceDrops = b
		}
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_USER_DATA_DIR"); v != "" {
		cfg.Browser.UserDataDir = v
	}

	if v := os.Getenv("CRAWL_TMALL_FONT_PATH"); v != "" {
		cfg.Crawl.TmallFontPath = v
	}
	if v := os.Getenv("CRAWL_SKIP_PRESALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Crawl.SkipPresale = b
		}
	}
	if v := os.Getenv("CRAWL_JD_PAGES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Crawl.JDPages = i
		}
	}
	if v := os.Getenv("CRAWL_TMALL_PAGES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Crawl.TmallPages = i
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Email.ToEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func defaultMySQLConfig() *mysql.Config {
	c := mysql.NewConfig()
	c.User = "root"
	c.Net = "tcp"
	c.Addr = "localhost:3306"
	c.DBName = "toytracker"
	c.ParseTime = true
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn == "" {
		return defaultMySQLConfig()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return defaultMySQLConfig()
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		NewItemDuration string `json:"new_item_duration"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.NewItemDuration != "" {
		duration, err := time.ParseDuration(aux.NewItemDuration)
		if err != nil {
			return fmt.Errorf("invalid new_item_duration format: %w", err)
		}
		a.NewItemDuration = duration
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		NewItemDuration string `json:"new_item_duration"`
		*Alias
	}{
		NewItemDuration: a.NewItemDuration.String(),
		Alias:           (*Alias)(&a),
	})
}
