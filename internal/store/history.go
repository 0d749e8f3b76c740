package store

import (
	"context"
	"database/sql"
	"fmt"

	"toytracker/internal/model"

	"gorm.io/gorm/clause"
)

// AppendPrice 写入一条价格历史，每个商品每天最多一条。
//
// 价格不大于 0 时直接跳过；当天已有记录时保留先写入的那条。
// (product_id, price_date) 唯一索引配合 ON CONFLICT DO NOTHING 兜底并发写入。
//
// 参数:
//
//	ctx: 上下文
//	p: 平台
//	entry: 历史记录（ProductID 为商品内部 ID，PriceDate 为 YYYY-MM-DD）
//
// 返回值:
//
//	bool: 是否新增了记录
//	error: 存储失败返回错误
func (s *Store) AppendPrice(ctx context.Context, p model.Platform, entry *model.PriceHistory) (bool, error) {
	if err := checkPlatform(p); err != nil {
		return false, err
	}
	if entry == nil || entry.Price <= 0 {
		return false, nil
	}
	if entry.ProductID == 0 || entry.PriceDate == "" {
		return false, fmt.Errorf("append price: product id and date are required")
	}

	db := s.db.WithContext(ctx).Table(p.HistoryTable())
	var n int64
	if err := db.Where("product_id = ? AND price_date = ?", entry.ProductID, entry.PriceDate).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check %s history: %w", p, err)
	}
	if n > 0 {
		return false, nil
	}

	row := *entry
	row.ID = 0
	res := s.db.WithContext(ctx).Table(p.HistoryTable()).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert %s history: %w", p, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// LowestPrice 返回某日期之前记录过的最低有效价格，没有记录时 ok 为 false。
func (s *Store) LowestPrice(ctx context.Context, p model.Platform, productID uint, before string) (float64, bool, error) {
	if err := checkPlatform(p); err != nil {
		return 0, false, err
	}
	var lowest sql.NullFloat64
	err := s.db.WithContext(ctx).Table(p.HistoryTable()).
		Select("MIN(price)").
		Where("product_id = ? AND price > 0 AND price_date < ?", productID, before).
		Row().Scan(&lowest)
	if err != nil {
		return 0, false, err
	}
	return lowest.Float64, lowest.Valid, nil
}

// PriceHistory 返回商品的价格历史，最新日期在前。
func (s *Store) PriceHistory(ctx context.Context, p model.Platform, productID uint) ([]model.PriceHistory, error) {
	if err := checkPlatform(p); err != nil {
		return nil, err
	}
	var rows []model.PriceHistory
	err := s.db.WithContext(ctx).Table(p.HistoryTable()).
		Where("product_id = ?", productID).
		Order("price_date DESC").
		Find(&rows).Error
	return rows, err
}
