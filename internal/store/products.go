package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toytracker/internal/model"

	"gorm.io/gorm"
)

// UpsertResult 商品写入结果。
type UpsertResult struct {
	ID       uint // 内部 ID
	Created  bool // 是否新建
	Followed bool // 商品是否被关注（用于降价通知）
}

// UpsertProduct 按 (平台, 平台商品 ID) 写入商品。
//
// 不存在时插入全部字段；已存在时刷新标题、链接、图片、状态、店铺与定金标记，
// 款式名和等级仅在原值为空时补齐，价格仅在新值大于 0 时覆盖，
// 购买/关注标记从不修改。
//
// 参数:
//
//	ctx: 上下文
//	p: 平台
//	in: 抓取到的商品字段（ProductID 必填）
//
// 返回值:
//
//	UpsertResult: 内部 ID 以及是否新建
//	error: 存储失败返回错误
func (s *Store) UpsertProduct(ctx context.Context, p model.Platform, in *model.Product) (UpsertResult, error) {
	if err := checkPlatform(p); err != nil {
		return UpsertResult{}, err
	}
	if in == nil || in.ProductID == "" {
		return UpsertResult{}, fmt.Errorf("upsert product: empty product id")
	}
	table := p.ProductTable()

	var result UpsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Product
		err := tx.Table(table).Where("product_id = ?", in.ProductID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row := *in
			row.ID = 0
			row.IsPurchased = false
			row.IsFollowed = false
			if row.Status == "" {
				row.Status = model.StatusAvailable
			}
			if err := tx.Table(table).Create(&row).Error; err != nil {
				return err
			}
			result = UpsertResult{ID: row.ID, Created: true}
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"is_deposit": in.IsDeposit,
			"updated_at": time.Now(),
		}
		setIfNotEmpty(updates, "title", in.Title)
		setIfNotEmpty(updates, "product_url", in.ProductURL)
		setIfNotEmpty(updates, "image_url", in.ImageURL)
		setIfNotEmpty(updates, "status", in.Status)
		setIfNotEmpty(updates, "shop_name", in.ShopName)
		setIfNotEmpty(updates, "shop_url", in.ShopURL)
		if existing.StyleName == "" {
			setIfNotEmpty(updates, "style_name", in.StyleName)
		}
		if existing.Level == "" {
			setIfNotEmpty(updates, "level", in.Level)
		}
		if in.Price > 0 {
			updates["price"] = in.Price
		}
		if err := tx.Table(table).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		result = UpsertResult{ID: existing.ID, Followed: existing.IsFollowed}
		return nil
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert %s product %s: %w", p, in.ProductID, err)
	}
	return result, nil
}

func setIfNotEmpty(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// GetProduct 按内部 ID 查询商品。
func (s *Store) GetProduct(ctx context.Context, p model.Platform, id uint) (*model.Product, error) {
	if err := checkPlatform(p); err != nil {
		return nil, err
	}
	var product model.Product
	err := s.db.WithContext(ctx).Table(p.ProductTable()).Where("id = ?", id).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByExternalID 按平台商品 ID 查询。
func (s *Store) FindByExternalID(ctx context.Context, p model.Platform, productID string) (*model.Product, error) {
	if err := checkPlatform(p); err != nil {
		return nil, err
	}
	var product model.Product
	err := s.db.WithContext(ctx).Table(p.ProductTable()).Where("product_id = ?", productID).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CountProducts 返回平台商品数。
func (s *Store) CountProducts(ctx context.Context, p model.Platform) (int64, error) {
	if err := checkPlatform(p); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.WithContext(ctx).Table(p.ProductTable()).Count(&n).Error
	return n, err
}

// ListAvailable 返回平台上所有已上架商品（离线匹配使用）。
func (s *Store) ListAvailable(ctx context.Context, p model.Platform) ([]model.Product, error) {
	if err := checkPlatform(p); err != nil {
		return nil, err
	}
	var products []model.Product
	err := s.db.WithContext(ctx).Table(p.ProductTable()).
		Where("status = ?", model.StatusAvailable).
		Order("id ASC").
		Find(&products).Error
	return products, err
}

// SetPurchased 设置已购买标记。
func (s *Store) SetPurchased(ctx context.Context, p model.Platform, id uint, purchased bool) error {
	return s.setFlag(ctx, p, id, "is_purchased", purchased)
}

// SetFollowed 设置关注标记。
func (s *Store) SetFollowed(ctx context.Context, p model.Platform, id uint, followed bool) error {
	return s.setFlag(ctx, p, id, "is_followed", followed)
}

func (s *Store) setFlag(ctx context.Context, p model.Platform, id uint, column string, value bool) error {
	if err := checkPlatform(p); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Table(p.ProductTable()).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.Table(p.ProductTable()).Where("id = ?", id).
			Updates(map[string]interface{}{column: value, "updated_at": time.Now()}).Error
	})
}

type latestRow struct {
	ProductID uint
	Price     float64
	PriceDate string
}

type minRow struct {
	ProductID uint
	MinPrice  float64
}

// ListProducts 返回平台商品列表及价格聚合：最新价格、近 30 天最低价、历史最低价、是否新品。
//
// 参数:
//
//	ctx: 上下文
//	p: 平台
//	now: 当前时间（30 天窗口与新品窗口以此为基准）
//	newWindow: 新品判定窗口，创建时间在 now-newWindow 之后的商品为新品
//
// 返回值:
//
//	[]model.ProductView: 按 ID 倒序的商品视图
//	error: 查询失败返回错误
func (s *Store) ListProducts(ctx context.Context, p model.Platform, now time.Time, newWindow time.Duration) ([]model.ProductView, error) {
	if err := checkPlatform(p); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	hist := p.HistoryTable()

	var products []model.Product
	if err := db.Table(p.ProductTable()).Order("id DESC").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list %s products: %w", p, err)
	}

	var latest []latestRow
	if err := db.Raw(fmt.Sprintf(`SELECT h.product_id, h.price, h.price_date FROM %s h
		JOIN (SELECT product_id, MAX(price_date) AS price_date FROM %s GROUP BY product_id) m
		ON h.product_id = m.product_id AND h.price_date = m.price_date`, hist, hist)).
		Scan(&latest).Error; err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}

	since := s.Day(now.AddDate(0, 0, -30))
	var min30 []minRow
	if err := db.Table(hist).Select("product_id, MIN(price) AS min_price").
		Where("price > 0 AND price_date >= ?", since).
		Group("product_id").Scan(&min30).Error; err != nil {
		return nil, fmt.Errorf("30 day min prices: %w", err)
	}

	var minAll []minRow
	if err := db.Table(hist).Select("product_id, MIN(price) AS min_price").
		Where("price > 0").
		Group("product_id").Scan(&minAll).Error; err != nil {
		return nil, fmt.Errorf("all time min prices: %w", err)
	}

	latestByID := make(map[uint]latestRow, len(latest))
	for _, r := range latest {
		latestByID[r.ProductID] = r
	}
	min30ByID := toMinMap(min30)
	minAllByID := toMinMap(minAll)

	newSince := now.Add(-newWindow)
	views := make([]model.ProductView, 0, len(products))
	for _, prod := range products {
		v := model.ProductView{
			Product:     prod,
			MinPrice30d: min30ByID[prod.ID],
			MinPriceAll: minAllByID[prod.ID],
			IsNew:       prod.CreatedAt.After(newSince),
		}
		if r, ok := latestByID[prod.ID]; ok {
			v.LatestPrice = r.Price
			v.LatestPriceDate = r.PriceDate
		}
		views = append(views, v)
	}
	return views, nil
}

func toMinMap(rows []minRow) map[uint]float64 {
	m := make(map[uint]float64, len(rows))
	for _, r := range rows {
		m[r.ProductID] = r.MinPrice
	}
	return m
}

// Stats 返回两个平台的商品与历史记录统计。
func (s *Store) Stats(ctx context.Context) (map[model.Platform]model.PlatformStats, error) {
	db := s.db.WithContext(ctx)
	out := make(map[model.Platform]model.PlatformStats, 2)
	for _, p := range model.Platforms() {
		var st model.PlatformStats
		if err := db.Table(p.ProductTable()).Count(&st.Total).Error; err != nil {
			return nil, err
		}
		if err := db.Table(p.ProductTable()).Where("status = ?", model.StatusAvailable).Count(&st.Available).Error; err != nil {
			return nil, err
		}
		if err := db.Table(p.ProductTable()).Where("status = ?", model.StatusPending).Count(&st.Pending).Error; err != nil {
			return nil, err
		}
		if err := db.Table(p.HistoryTable()).Count(&st.History).Error; err != nil {
			return nil, err
		}
		out[p] = st
	}
	return out, nil
}
