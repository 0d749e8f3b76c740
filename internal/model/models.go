package model

import (
	"fmt"
	"time"
)

// Platform 电商平台标识。
type Platform string

const (
	PlatformJD    Platform = "jd"
	PlatformTmall Platform = "tmall"
)

// Platforms 返回所有支持的平台。
func Platforms() []Platform {
	return []Platform{PlatformJD, PlatformTmall}
}

// ParsePlatform 校验并转换平台字符串。
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformJD, PlatformTmall:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// ProductTable 返回该平台商品表名（jd_products / tmall_products）。
func (p Platform) ProductTable() string {
	return string(p) + "_products"
}

// HistoryTable 返回该平台价格历史表名（jd_price_history / tmall_price_history）。
func (p Platform) HistoryTable() string {
	return string(p) + "_price_history"
}

// 商品状态。
const (
	StatusAvailable = "available" // 已上架，有可购买价格
	StatusPending   = "pending"   // 待发布，价格隐藏
)

// Product 表示某个平台上的一条商品。
//
// 两个平台结构相同，分别存放在 jd_products / tmall_products 表中。
// ProductID 是平台原始 ID（京东 SKU / 天猫 item id），在单个平台内唯一。
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"` // 内部 ID
	CreatedAt time.Time `json:"created_at"`           // 首次抓取时间
	UpdatedAt time.Time `json:"updated_at"`           // 最近一次抓取时间

	ProductID  string  `gorm:"type:varchar(191);not null" json:"product_id"` // 平台原始 ID (唯一索引, 迁移时按表名创建)
	ProductURL string  `json:"product_url"`                                  // 商品详情页链接
	ImageURL   string  `json:"image_url"`                                    // 主图链接
	Title      string  `gorm:"not null" json:"title"`                        // 商品标题
	Price      float64 `json:"price"`                                        // 最近一次有效价格（0 表示未知）
	Status     string  `gorm:"type:varchar(16);default:available" json:"status"`
	ShopName   string  `json:"shop_name"`
	ShopURL    string  `json:"shop_url"`
	StyleName  string  `json:"style_name"` // 款式名（从标题解析）
	Level      string  `gorm:"type:varchar(32)" json:"level"`

	IsDeposit   bool `gorm:"default:false" json:"is_deposit"`   // 定金/预售商品
	IsPurchased bool `gorm:"default:false" json:"is_purchased"` // 已购买
	IsFollowed  bool `gorm:"default:false" json:"is_followed"`  // 关注降价
}

// PriceHistory 价格历史，每个商品每天最多一条。
type PriceHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ProductID  uint    `gorm:"not null" json:"product_id"` // 对应商品表的内部 ID
	ProductURL string  `json:"product_url"`
	Price      float64 `gorm:"not null" json:"price"`
	StyleName  string  `json:"style_name"`                                   // 抓取时的款式名快照
	PriceDate  string  `gorm:"type:varchar(10);not null" json:"price_date"` // YYYY-MM-DD
}

// ProductSummary 跨平台关联，把京东与天猫上的同一款商品配对。
//
// 由离线匹配生成，也可以在看板中手工维护（IsManual=true 的行不会被重建覆盖）。
type ProductSummary struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductName    string  `gorm:"not null" json:"product_name"`
	ProductType    string  `json:"product_type"` // 等级
	JDProductID    *uint   `gorm:"column:jd_product_id" json:"jd_product_id"`
	TmallProductID *uint   `json:"tmall_product_id"`
	JDURL          string  `gorm:"column:jd_url" json:"jd_url"`
	TmallURL       string  `json:"tmall_url"`
	Score          float64 `json:"score"`
	MatchDetail    string  `json:"match_detail"`
	IsManual       bool    `gorm:"default:false" json:"is_manual"`
}

// TableName 固定表名。
func (ProductSummary) TableName() string {
	return "products_summary"
}

// ProductView 看板用的商品视图：商品字段加价格聚合。
type ProductView struct {
	Product
	LatestPrice     float64 `json:"latest_price"`
	LatestPriceDate string  `json:"latest_price_date"`
	MinPrice30d     float64 `json:"min_price_30d"`
	MinPriceAll     float64 `json:"min_price_all"`
	IsNew           bool    `json:"is_new"`
}

// PlatformStats 单个平台的统计。
type PlatformStats struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Pending   int64 `json:"pending"`
	History   int64 `json:"history"`
}
