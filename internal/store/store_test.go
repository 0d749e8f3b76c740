package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"toytracker/internal/config"
	"toytracker/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = time.FixedZone("CST", 8*3600)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	s := New(db, testLoc)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	assert.True(t, s.DB().Migrator().HasIndex("jd_products", "idx_jd_products_product_id"))
	assert.True(t, s.DB().Migrator().HasIndex("tmall_price_history", "idx_tmall_price_history_product_id_price_date"))
}

func TestUpsertProduct_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &model.Product{ProductID: "123", Title: "变形金刚 MP-44 大师级", Level: "大师级", StyleName: "MP-44 大师级", Price: 299}
	first, err := s.UpsertProduct(ctx, model.PlatformJD, in)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotZero(t, first.ID)

	second, err := s.UpsertProduct(ctx, model.PlatformJD, in)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	n, err := s.CountProducts(ctx, model.PlatformJD)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 同一 ID 在另一个平台是独立的商品
	other, err := s.UpsertProduct(ctx, model.PlatformTmall, in)
	require.NoError(t, err)
	assert.True(t, other.Created)
}

func TestUpsertProduct_RefreshRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertProduct(ctx, model.PlatformTmall, &model.Product{
		ProductID: "9", Title: "旧标题", StyleName: "旧款式", Level: "", Price: 100, Status: model.StatusAvailable,
	})
	require.NoError(t, err)
	require.NoError(t, s.SetFollowed(ctx, model.PlatformTmall, res.ID, true))
	require.NoError(t, s.SetPurchased(ctx, model.PlatformTmall, res.ID, true))

	again, err := s.UpsertProduct(ctx, model.PlatformTmall, &model.Product{
		ProductID: "9", Title: "新标题", StyleName: "新款式", Level: "领袖级", Price: 0, Status: model.StatusPending,
	})
	require.NoError(t, err)
	assert.True(t, again.Followed)

	got, err := s.GetProduct(ctx, model.PlatformTmall, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "新标题", got.Title)
	assert.Equal(t, "旧款式", got.StyleName)
	assert.Equal(t, "领袖级", got.Level)
	assert.Equal(t, 100.0, got.Price)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.True(t, got.IsFollowed)
	assert.True(t, got.IsPurchased)
}

func TestUpsertProduct_InvalidInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertProduct(ctx, model.Platform("taobao"), &model.Product{ProductID: "1"})
	assert.ErrorIs(t, err, ErrInvalidPlatform)

	_, err = s.UpsertProduct(ctx, model.PlatformJD, &model.Product{})
	assert.Error(t, err)
}

func TestAppendPrice_OnePerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertProduct(ctx, model.PlatformJD, &model.Product{ProductID: "123", Title: "t"})
	require.NoError(t, err)

	ok, err := s.AppendPrice(ctx, model.PlatformJD, &model.PriceHistory{ProductID: res.ID, Price: 299, PriceDate: "2024-05-01"})
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 3; i++ {
		ok, err = s.AppendPrice(ctx, model.PlatformJD, &model.PriceHistory{ProductID: res.ID, Price: 199, PriceDate: "2024-05-01"})
		require.NoError(t, err)
		assert.False(t, ok)
	}

	rows, err := s.PriceHistory(ctx, model.PlatformJD, res.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 299.0, rows[0].Price)

	ok, err = s.AppendPrice(ctx, model.PlatformJD, &model.PriceHistory{ProductID: res.ID, Price: 199, PriceDate: "2024-05-02"})
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err = s.PriceHistory(ctx, model.PlatformJD, res.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-05-02", rows[0].PriceDate)
}

func TestAppendPrice_SkipsZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AppendPrice(ctx, model.PlatformTmall, &model.PriceHistory{ProductID: 1, Price: 0, PriceDate: "2024-05-01"})
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := s.PriceHistory(ctx, model.PlatformTmall, 1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLowestPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LowestPrice(ctx, model.PlatformJD, 1, "2024-05-03")
	require.NoError(t, err)
	assert.False(t, ok)

	for day, price := range map[string]float64{"2024-05-01": 300, "2024-05-02": 250, "2024-05-03": 100} {
		_, err := s.AppendPrice(ctx, model.PlatformJD, &model.PriceHistory{ProductID: 1, Price: price, PriceDate: day})
		require.NoError(t, err)
	}
	lowest, ok, err := s.LowestPrice(ctx, model.PlatformJD, 1, "2024-05-03")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 250.0, lowest)
}

func TestListProducts_Aggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().In(testLoc)

	res, err := s.UpsertProduct(ctx, model.PlatformTmall, &model.Product{ProductID: "1", Title: "a"})
	require.NoError(t, err)
	_, err = s.UpsertProduct(ctx, model.PlatformTmall, &model.Product{ProductID: "2", Title: "b"})
	require.NoError(t, err)

	entries := []model.PriceHistory{
		{ProductID: res.ID, Price: 80, PriceDate: s.Day(now.AddDate(0, 0, -60))},  // 超出 30 天
		{ProductID: res.ID, Price: 120, PriceDate: s.Day(now.AddDate(0, 0, -10))}, // 30 天内
		{ProductID: res.ID, Price: 150, PriceDate: s.Day(now)},                    // 最新
	}
	for i := range entries {
		_, err := s.AppendPrice(ctx, model.PlatformTmall, &entries[i])
		require.NoError(t, err)
	}

	views, err := s.ListProducts(ctx, model.PlatformTmall, now, 72*time.Hour)
	require.NoError(t, err)
	require.Len(t, views, 2)

	// 按 ID 倒序
	assert.Equal(t, "2", views[0].ProductID)
	assert.Zero(t, views[0].LatestPrice)
	assert.True(t, views[0].IsNew)

	v := views[1]
	assert.Equal(t, 150.0, v.LatestPrice)
	assert.Equal(t, s.Day(now), v.LatestPriceDate)
	assert.Equal(t, 120.0, v.MinPrice30d)
	assert.Equal(t, 80.0, v.MinPriceAll)

	// 新品窗口之外
	later, err := s.ListProducts(ctx, model.PlatformTmall, now.Add(96*time.Hour), 72*time.Hour)
	require.NoError(t, err)
	assert.False(t, later[0].IsNew)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.UpsertProduct(ctx, model.PlatformJD, &model.Product{ProductID: "1", Title: "a", Status: model.StatusAvailable})
	_, _ = s.UpsertProduct(ctx, model.PlatformJD, &model.Product{ProductID: "2", Title: "b", Status: model.StatusPending})
	_, _ = s.AppendPrice(ctx, model.PlatformJD, &model.PriceHistory{ProductID: a.ID, Price: 10, PriceDate: "2024-05-01"})

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PlatformStats{Total: 2, Available: 1, Pending: 1, History: 1}, stats[model.PlatformJD])
	assert.Equal(t, model.PlatformStats{}, stats[model.PlatformTmall])
}

func TestSetFlag_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SetPurchased(context.Background(), model.PlatformJD, 42, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSummaryCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jdID := uint(1)
	manual := &model.ProductSummary{ProductName: "MP-44 擎天柱", JDProductID: &jdID}
	require.NoError(t, s.CreateSummary(ctx, manual))
	assert.True(t, manual.IsManual)

	require.NoError(t, s.ReplaceGenerated(ctx, []model.ProductSummary{
		{ProductName: "自动1"}, {ProductName: "自动2"},
	}))
	rows, err := s.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// 重建只替换自动生成的行
	require.NoError(t, s.ReplaceGenerated(ctx, []model.ProductSummary{{ProductName: "自动3"}}))
	rows, err = s.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "MP-44 擎天柱", rows[0].ProductName)

	jd, tmall, err := s.ManualLinks(ctx)
	require.NoError(t, err)
	assert.True(t, jd[1])
	assert.Empty(t, tmall)

	updated, err := s.UpdateSummary(ctx, rows[1].ID, map[string]interface{}{"product_name": "改名"})
	require.NoError(t, err)
	assert.Equal(t, "改名", updated.ProductName)
	assert.True(t, updated.IsManual)

	require.NoError(t, s.DeleteSummary(ctx, manual.ID))
	assert.ErrorIs(t, s.DeleteSummary(ctx, manual.ID), ErrNotFound)
	_, err = s.GetSummary(ctx, manual.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
