// Package store 负责商品、价格历史与跨平台总表的持久化。
//
// 京东与天猫使用结构相同的两组表（jd_products / tmall_products,
// jd_price_history / tmall_price_history），通过 model.Platform 选择表名。
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"toytracker/internal/config"
	"toytracker/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// DayFormat 价格历史日期格式（ISO-8601 日期）。
const DayFormat = "2006-01-02"

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrInvalidPlatform 平台标识无效。
	ErrInvalidPlatform = errors.New("invalid platform")
)

// Store 封装数据库访问。
type Store struct {
	db  *gorm.DB
	loc *time.Location
}

// Open 按配置打开数据库连接。
//
// 参数:
//
//	cfg: 数据库配置，driver 为 sqlite（默认）或 mysql
//
// 返回值:
//
//	*gorm.DB: 数据库连接
//	error: 连接失败返回错误
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	}

	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		db, err := gorm.Open(sqlite.Open(cfg.Path+"?_busy_timeout=5000"), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite 单写者，限制为一个连接避免 database is locked
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// New 创建 Store。loc 决定"今天"的日期边界，nil 时使用本地时区。
func New(db *gorm.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{db: db, loc: loc}
}

// DB 返回底层连接（健康检查等场景使用）。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Day 把时间格式化为价格历史使用的日期。
func (s *Store) Day(t time.Time) string {
	return t.In(s.loc).Format(DayFormat)
}

// Location 返回日期计算使用的时区。
func (s *Store) Location() *time.Location {
	return s.loc
}

// Ping 检查数据库连接。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate 创建或更新所有表结构。
//
// 两个平台共用同一组模型，唯一索引按表名单独创建，
// 避免 SQLite 中索引名全局冲突。
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, p := range model.Platforms() {
		if err := db.Table(p.ProductTable()).AutoMigrate(&model.Product{}); err != nil {
			return fmt.Errorf("migrate %s: %w", p.ProductTable(), err)
		}
		if err := db.Table(p.HistoryTable()).AutoMigrate(&model.PriceHistory{}); err != nil {
			return fmt.Errorf("migrate %s: %w", p.HistoryTable(), err)
		}
		if err := s.ensureUniqueIndex(ctx, p.ProductTable(), "product_id"); err != nil {
			return err
		}
		if err := s.ensureUniqueIndex(ctx, p.HistoryTable(), "product_id", "price_date"); err != nil {
			return err
		}
	}
	if err := db.AutoMigrate(&model.ProductSummary{}); err != nil {
		return fmt.Errorf("migrate products_summary: %w", err)
	}
	return nil
}

func (s *Store) ensureUniqueIndex(ctx context.Context, table string, columns ...string) error {
	name := "idx_" + table + "_" + strings.Join(columns, "_")
	db := s.db.WithContext(ctx)
	if db.Migrator().HasIndex(table, name) {
		return nil
	}
	stmt := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", name, table, strings.Join(columns, ", "))
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

func checkPlatform(p model.Platform) error {
	if _, err := model.ParsePlatform(string(p)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, p)
	}
	return nil
}
