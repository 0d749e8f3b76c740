package store

import (
	"context"
	"errors"
	"fmt"

	"toytracker/internal/model"

	"gorm.io/gorm"
)

// ListSummaries 返回全部总表行。
func (s *Store) ListSummaries(ctx context.Context) ([]model.ProductSummary, error) {
	var rows []model.ProductSummary
	err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error
	return rows, err
}

// GetSummary 查询单条总表行。
func (s *Store) GetSummary(ctx context.Context, id uint) (*model.ProductSummary, error) {
	var row model.ProductSummary
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateSummary 新建一条手工维护的总表行。
func (s *Store) CreateSummary(ctx context.Context, row *model.ProductSummary) error {
	row.ID = 0
	row.IsManual = true
	return s.db.WithContext(ctx).Create(row).Error
}

// UpdateSummary 修改总表行。修改过的行视为手工维护，重建时保留。
func (s *Store) UpdateSummary(ctx context.Context, id uint, updates map[string]interface{}) (*model.ProductSummary, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.ProductSummary
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		updates["is_manual"] = true
		return tx.Model(&row).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetSummary(ctx, id)
}

// DeleteSummary 删除总表行。
func (s *Store) DeleteSummary(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.ProductSummary{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ManualLinks 返回手工行已占用的京东与天猫商品 ID。
func (s *Store) ManualLinks(ctx context.Context) (jd map[uint]bool, tmall map[uint]bool, err error) {
	var rows []model.ProductSummary
	if err := s.db.WithContext(ctx).Where("is_manual = ?", true).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	jd, tmall = map[uint]bool{}, map[uint]bool{}
	for _, r := range rows {
		if r.JDProductID != nil {
			jd[*r.JDProductID] = true
		}
		if r.TmallProductID != nil {
			tmall[*r.TmallProductID] = true
		}
	}
	return jd, tmall, nil
}

// ReplaceGenerated 在一个事务中删除所有自动生成的行并写入新结果，手工行保持不变。
func (s *Store) ReplaceGenerated(ctx context.Context, rows []model.ProductSummary) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("is_manual = ?", false).Delete(&model.ProductSummary{}).Error; err != nil {
			return fmt.Errorf("clear generated summary: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		for i := range rows {
			rows[i].ID = 0
			rows[i].IsManual = false
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		return nil
	})
}
