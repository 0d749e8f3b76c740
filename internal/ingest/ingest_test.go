package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"toytracker/internal/config"
	"toytracker/internal/model"
	"toytracker/internal/pkg/logger"
	"toytracker/internal/pkg/notify"
	"toytracker/internal/pkg/pricefont"
	"toytracker/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "ingest.db")})
	require.NoError(t, err)
	s := store.New(db, cst)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// 私有区码位 -> 数字，模拟一次运行加载的字体映射。
func testDecoder() *pricefont.Decoder {
	return pricefont.NewDecoder(map[rune]rune{
		'': '2',
		'': '9',
		'': '0',
		'': '.',
		'': '1',
		'': '5',
	})
}

// "299.00" 的混淆形式
const encrypted29900 = ""

type fakeNotifier struct {
	drops []notify.PriceDrop
	err   error
}

func (f *fakeNotifier) NotifyPriceDrop(_ context.Context, drop notify.PriceDrop) error {
	f.drops = append(f.drops, drop)
	return f.err
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIngest_EndToEnd(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, cst)
	ing := New(s, logger.Discard(), Options{Location: cst, Now: fixedNow(now)})

	batch := Batch{
		Platform: model.PlatformTmall,
		Decoder:  testDecoder(),
		Listings: []model.Listing{{
			ExternalID: "123",
			Title:      "变形金刚 MP-44 大师级",
			URL:        "https://detail.tmall.com/item.htm?id=123",
			Price:      encrypted29900,
			Obfuscated: true,
		}},
	}

	report, err := ing.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Appended)
	assert.Equal(t, "2024-05-01", report.Day)
	assert.NotEmpty(t, report.RunID)

	product, err := s.FindByExternalID(ctx, model.PlatformTmall, "123")
	require.NoError(t, err)
	assert.Equal(t, "大师级", product.Level)
	assert.Equal(t, "MP-44 大师级", product.StyleName)
	assert.Equal(t, 299.0, product.Price)

	history, err := s.PriceHistory(ctx, model.PlatformTmall, product.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 299.0, history[0].Price)
	assert.Equal(t, "2024-05-01", history[0].PriceDate)

	// 同一天再次入库不产生新的历史记录
	again, err := ing.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 1, again.Updated)
	assert.Equal(t, 0, again.Appended)
	assert.NotEqual(t, report.RunID, again.RunID)

	history, err = s.PriceHistory(ctx, model.PlatformTmall, product.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	n, err := s.CountProducts(ctx, model.PlatformTmall)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIngest_ZeroPriceCreatesProductOnly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ing := New(s, logger.Discard(), Options{Location: cst})

	report, err := ing.Ingest(ctx, Batch{
		Platform: model.PlatformJD,
		Listings: []model.Listing{
			{ExternalID: "100", Title: "变形金刚 传世 泰坦级 大力金刚", Pending: true},
			{ExternalID: "101", Title: "变形金刚 核心级 声波", Price: "暂无报价"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Appended)
	assert.Equal(t, 1, report.DecodeFailures)

	pending, err := s.FindByExternalID(ctx, model.PlatformJD, "100")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, pending.Status)

	history, err := s.PriceHistory(ctx, model.PlatformJD, pending.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestIngest_UnmappedGlyphIsZero(t *testing.T) {
	s := newStore(t)
	ing := New(s, logger.Discard(), Options{Location: cst})

	report, err := ing.Ingest(context.Background(), Batch{
		Platform: model.PlatformTmall,
		Decoder:  testDecoder(),
		Listings: []model.Listing{{ExternalID: "7", Title: "x", Price: "", Obfuscated: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.DecodeFailures)
	assert.Equal(t, 0, report.Appended)
}

func TestIngest_Presale(t *testing.T) {
	listings := []model.Listing{
		{ExternalID: "1", Title: "变形金刚 MP-44 尾款", Price: "199"},
		{ExternalID: "2", Title: "变形金刚 MP-44 大师级", Price: "¥1,299.00"},
	}

	t.Run("skip", func(t *testing.T) {
		s := newStore(t)
		ing := New(s, logger.Discard(), Options{Location: cst, SkipPresale: true})
		report, err := ing.Ingest(context.Background(), Batch{Platform: model.PlatformJD, Listings: listings})
		require.NoError(t, err)
		assert.Equal(t, 1, report.SkippedPresale)
		assert.Equal(t, 1, report.Created)

		_, err = s.FindByExternalID(context.Background(), model.PlatformJD, "1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("flag", func(t *testing.T) {
		s := newStore(t)
		ing := New(s, logger.Discard(), Options{Location: cst})
		report, err := ing.Ingest(context.Background(), Batch{Platform: model.PlatformJD, Listings: listings})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Created)

		p, err := s.FindByExternalID(context.Background(), model.PlatformJD, "1")
		require.NoError(t, err)
		assert.True(t, p.IsDeposit)
	})
}

func TestIngest_InvalidListing(t *testing.T) {
	s := newStore(t)
	ing := New(s, logger.Discard(), Options{Location: cst})

	report, err := ing.Ingest(context.Background(), Batch{
		Platform: model.PlatformJD,
		Listings: []model.Listing{{ExternalID: "  ", Title: "no id"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 0, report.Created)
}

func TestIngest_PriceDropNotifiesFollowed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}

	day1 := time.Date(2024, 5, 1, 9, 0, 0, 0, cst)
	listing := model.Listing{ExternalID: "55", Title: "变形金刚 领袖级 擎天柱", Price: "399"}

	ing := New(s, logger.Discard(), Options{Location: cst, Notifier: notifier, Now: fixedNow(day1)})
	_, err := ing.Ingest(ctx, Batch{Platform: model.PlatformJD, Listings: []model.Listing{listing}})
	require.NoError(t, err)

	p, err := s.FindByExternalID(ctx, model.PlatformJD, "55")
	require.NoError(t, err)
	require.NoError(t, s.SetFollowed(ctx, model.PlatformJD, p.ID, true))

	// 第二天价格上涨：不通知
	listing.Price = "459"
	ing = New(s, logger.Discard(), Options{Location: cst, Notifier: notifier, Now: fixedNow(day1.AddDate(0, 0, 1))})
	_, err = ing.Ingest(ctx, Batch{Platform: model.PlatformJD, Listings: []model.Listing{listing}})
	require.NoError(t, err)
	assert.Empty(t, notifier.drops)

	// 第三天低于历史最低价：通知
	listing.Price = "299"
	ing = New(s, logger.Discard(), Options{Location: cst, Notifier: notifier, Now: fixedNow(day1.AddDate(0, 0, 2))})
	report, err := ing.Ingest(ctx, Batch{Platform: model.PlatformJD, Listings: []model.Listing{listing}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Notified)
	require.Len(t, notifier.drops, 1)
	assert.Equal(t, 399.0, notifier.drops[0].OldPrice)
	assert.Equal(t, 299.0, notifier.drops[0].NewPrice)
	assert.Equal(t, "2024-05-03", notifier.drops[0].Day)
}

// failingStore 第一次写入商品失败，之后正常。
type failingStore struct {
	Store
	calls int
}

func (f *failingStore) UpsertProduct(ctx context.Context, p model.Platform, in *model.Product) (store.UpsertResult, error) {
	f.calls++
	if f.calls == 1 {
		return store.UpsertResult{}, errors.New("database is locked")
	}
	return f.Store.UpsertProduct(ctx, p, in)
}

func TestIngest_StorageErrorDoesNotAbortBatch(t *testing.T) {
	s := newStore(t)
	fs := &failingStore{Store: s}
	ing := New(fs, logger.Discard(), Options{Location: cst})

	report, err := ing.Ingest(context.Background(), Batch{
		Platform: model.PlatformJD,
		Listings: []model.Listing{
			{ExternalID: "1", Title: "a", Price: "10"},
			{ExternalID: "2", Title: "b", Price: "20"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Appended)
}

func TestIngest_ContextCancelled(t *testing.T) {
	s := newStore(t)
	ing := New(s, logger.Discard(), Options{Location: cst})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := ing.Ingest(ctx, Batch{
		Platform: model.PlatformJD,
		Listings: []model.Listing{{ExternalID: "1", Title: "a", Price: "10"}},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Seen)
}

func TestResolvePrice(t *testing.T) {
	d := testDecoder()
	assert.Equal(t, 299.0, ResolvePrice(d, &model.Listing{Price: encrypted29900, Obfuscated: true}))
	assert.Equal(t, 0.0, ResolvePrice(nil, &model.Listing{Price: encrypted29900, Obfuscated: true}))
	assert.Equal(t, 0.0, ResolvePrice(d, &model.Listing{Price: "199", Pending: true}))
	assert.Equal(t, 199.0, ResolvePrice(d, &model.Listing{Price: "199"}))
}

func TestBatchesAndIngestAll(t *testing.T) {
	s := newStore(t)
	cfg := config.CrawlConfig{JDShopName: "京东自营", JDShopURL: "https://mall.jd.com", TmallShopName: "天猫旗舰店"}
	batches := Batches(cfg, map[model.Platform][]model.Listing{
		model.PlatformTmall: {{ExternalID: "123", Title: "变形金刚 MP-44 大师级", Price: encrypted29900, Obfuscated: true}},
		model.PlatformJD:    {{ExternalID: "9", Title: "变形金刚 核心级 声波", Price: "¥59.90"}},
	}, testDecoder())
	require.Len(t, batches, 2)
	assert.Equal(t, model.PlatformJD, batches[0].Platform)
	assert.Equal(t, "京东自营", batches[0].ShopName)
	assert.Equal(t, "天猫旗舰店", batches[1].ShopName)

	ing := New(s, logger.Discard(), Options{Location: cst})
	reports, err := ing.IngestAll(context.Background(), batches)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Appended)
	assert.Equal(t, 1, reports[1].Appended)

	jd, err := s.FindByExternalID(context.Background(), model.PlatformJD, "9")
	require.NoError(t, err)
	assert.Equal(t, "京东自营", jd.ShopName)
	assert.Equal(t, 59.9, jd.Price)

	assert.Empty(t, Batches(cfg, nil, nil))
}

func TestNewFromConfig_WithoutEmail(t *testing.T) {
	s := newStore(t)
	cfg := &config.Config{App: config.AppConfig{Timezone: "Asia/Shanghai", NotifyPriceDrops: true}, Crawl: config.CrawlConfig{SkipPresale: true}}
	ing := NewFromConfig(cfg, s, logger.Discard())
	assert.Nil(t, ing.notifier)
	assert.True(t, ing.skipPresale)
	assert.NoError(t, ing.Close())
}

func TestNewFromConfig_WithEmail(t *testing.T) {
	s := newStore(t)
	cfg := &config.Config{
		App: config.AppConfig{NotifyPriceDrops: true},
		Email: config.EmailConfig{
			SMTPHost:  "smtp.example.com",
			SMTPPort:  465,
			SMTPUser:  "bot@example.com",
			FromEmail: "bot@example.com",
			ToEmail:   "me@example.com",
		},
	}
	ing := NewFromConfig(cfg, s, logger.Discard())
	_, ok := ing.notifier.(*notify.Dispatcher)
	assert.True(t, ok)
	assert.NoError(t, ing.Close())
}

func TestLoadDecoder(t *testing.T) {
	assert.Nil(t, LoadDecoder("", logger.Discard()))
	assert.Nil(t, LoadDecoder(filepath.Join(t.TempDir(), "missing.woff"), logger.Discard()))
}
