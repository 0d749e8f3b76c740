// Package matcher 离线匹配京东与天猫上的同款商品，生成 products_summary。
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"toytracker/internal/catalog"
	"toytracker/internal/model"
)

// Threshold 低于该分数的配对不采用。
const Threshold = 30

// 加分项。
const (
	scoreRole          = 30
	scoreLevel         = 20
	scoreVersion       = 15
	scoreRelatedSeries = 10
	scoreModel         = 40
	scoreCombo         = 50
)

// namingVersions 生成名称时作为前缀的版本名，按优先级排列。
var namingVersions = []string{"86大电影", "40周年", "周年纪念", "起源", "决战塞伯坦", "传世", "经典电影", "天元"}

// Store 匹配依赖的存储接口。
type Store interface {
	ListAvailable(ctx context.Context, p model.Platform) ([]model.Product, error)
	ManualLinks(ctx context.Context) (jd map[uint]bool, tmall map[uint]bool, err error)
	ReplaceGenerated(ctx context.Context, rows []model.ProductSummary) error
}

// Result 重建结果统计。
type Result struct {
	Pairs     int `json:"pairs"`
	JDOnly    int `json:"jd_only"`
	TmallOnly int `json:"tmall_only"`
	Skipped   int `json:"skipped_manual"`
}

// Score 计算两个商品的匹配分数及命中明细。
func Score(jd, tm *model.Product) (int, string) {
	fullJD := matchText(jd)
	fullTM := matchText(tm)

	score := 0
	var details []string

	if r1, r2 := catalog.Role(fullJD), catalog.Role(fullTM); r1 != "" && r1 == r2 {
		score += scoreRole
		details = append(details, "角色:"+r1)
	}
	if l1, l2 := catalog.Level(fullJD), catalog.Level(fullTM); l1 != "" && l1 == l2 {
		score += scoreLevel
		details = append(details, "级别:"+l1)
	}

	v1, v2 := catalog.Version(fullJD), catalog.Version(fullTM)
	switch {
	case v1 == "" || v2 == "":
	case v1 == v2:
		score += scoreVersion
		details = append(details, "版本:"+v1)
	case (v1 == "决战塞伯坦" || v1 == "围城") && (v2 == "决战塞伯坦" || v2 == "王国"):
		score += scoreRelatedSeries
		details = append(details, "版本:决战塞伯坦系列")
	case v1 == "经典电影" && strings.Contains(v2, "电影"):
		score += scoreRelatedSeries
		details = append(details, "版本:电影系列")
	}

	if m1, m2 := catalog.ModelNumber(fullJD), catalog.ModelNumber(fullTM); m1 != "" && strings.EqualFold(m1, m2) {
		score += scoreModel
		details = append(details, "型号:"+m1)
	}

	if bothContain(fullJD, fullTM, "40周年", "探长") {
		score += scoreCombo
		details = append(details, "40周年探长组合")
	}
	if bothContain(fullJD, fullTM, "86大电影", "声波") {
		score += scoreCombo
		details = append(details, "86大电影声波组合")
	}

	return score, strings.Join(details, "; ")
}

func matchText(p *model.Product) string {
	return catalog.CleanTitle(p.Title) + " " + p.StyleName
}

func bothContain(a, b string, words ...string) bool {
	for _, w := range words {
		if !strings.Contains(a, w) || !strings.Contains(b, w) {
			return false
		}
	}
	return true
}

type candidate struct {
	jd, tm  *model.Product
	score   int
	details string
}

// Match 贪心配对：所有达到阈值的组合按分数从高到低依次采用，每个商品只使用一次。
// 未配对的商品生成单平台行。
func Match(jdProducts, tmProducts []model.Product) []model.ProductSummary {
	var candidates []candidate
	for i := range jdProducts {
		for j := range tmProducts {
			score, details := Score(&jdProducts[i], &tmProducts[j])
			if score >= Threshold {
				candidates = append(candidates, candidate{jd: &jdProducts[i], tm: &tmProducts[j], score: score, details: details})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	usedJD := map[uint]bool{}
	usedTM := map[uint]bool{}
	var rows []model.ProductSummary
	for _, c := range candidates {
		if usedJD[c.jd.ID] || usedTM[c.tm.ID] {
			continue
		}
		usedJD[c.jd.ID] = true
		usedTM[c.tm.ID] = true
		rows = append(rows, pairRow(c))
	}

	for i := range jdProducts {
		if !usedJD[jdProducts[i].ID] {
			rows = append(rows, singleRow(model.PlatformJD, &jdProducts[i]))
		}
	}
	for i := range tmProducts {
		if !usedTM[tmProducts[i].ID] {
			rows = append(rows, singleRow(model.PlatformTmall, &tmProducts[i]))
		}
	}
	return rows
}

func pairRow(c candidate) model.ProductSummary {
	name := catalog.CleanTitle(c.jd.Title)
	if name == "" {
		name = catalog.CleanTitle(c.tm.Title)
	}
	combined := c.jd.Title + c.tm.Title
	for _, v := range namingVersions {
		if strings.Contains(combined, v) {
			if !strings.Contains(name, v) {
				name = v + " " + name
			}
			break
		}
	}
	code := catalog.ModelNumber(c.jd.Title + " " + c.jd.StyleName)
	if code == "" {
		code = catalog.ModelNumber(c.tm.Title + " " + c.tm.StyleName)
	}
	if code != "" {
		name += " (" + code + ")"
	}

	jdID, tmID := c.jd.ID, c.tm.ID
	return model.ProductSummary{
		ProductName:    name,
		ProductType:    catalog.Level(c.jd.Title + " " + c.tm.Title),
		JDProductID:    &jdID,
		TmallProductID: &tmID,
		JDURL:          c.jd.ProductURL,
		TmallURL:       c.tm.ProductURL,
		Score:          float64(c.score),
		MatchDetail:    c.details,
	}
}

func singleRow(p model.Platform, prod *model.Product) model.ProductSummary {
	text := prod.Title + " " + prod.StyleName
	name := catalog.CleanTitle(prod.Title)
	if v := catalog.Version(text); v != "" && !strings.Contains(name, v) {
		name = v + " " + name
	}
	if m := catalog.ModelNumber(text); m != "" {
		name += " (" + m + ")"
	}
	id := prod.ID
	row := model.ProductSummary{
		ProductName: name,
		ProductType: catalog.Level(prod.Title),
	}
	if p == model.PlatformJD {
		row.JDProductID = &id
		row.JDURL = prod.ProductURL
	} else {
		row.TmallProductID = &id
		row.TmallURL = prod.ProductURL
	}
	return row
}

// Matcher 执行总表重建。
type Matcher struct {
	store  Store
	logger *slog.Logger
}

// New 创建 Matcher。
func New(st Store, logger *slog.Logger) *Matcher {
	return &Matcher{store: st, logger: logger}
}

// Rebuild 重新生成自动匹配的总表行，手工维护的行及其关联商品保持不变。
func (m *Matcher) Rebuild(ctx context.Context) (Result, error) {
	jdProducts, err := m.store.ListAvailable(ctx, model.PlatformJD)
	if err != nil {
		return Result{}, fmt.Errorf("list jd products: %w", err)
	}
	tmProducts, err := m.store.ListAvailable(ctx, model.PlatformTmall)
	if err != nil {
		return Result{}, fmt.Errorf("list tmall products: %w", err)
	}
	manualJD, manualTM, err := m.store.ManualLinks(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load manual links: %w", err)
	}

	var res Result
	jdProducts, res.Skipped = excludeLinked(jdProducts, manualJD)
	var skippedTM int
	tmProducts, skippedTM = excludeLinked(tmProducts, manualTM)
	res.Skipped += skippedTM

	rows := Match(jdProducts, tmProducts)
	for _, r := range rows {
		switch {
		case r.JDProductID != nil && r.TmallProductID != nil:
			res.Pairs++
		case r.JDProductID != nil:
			res.JDOnly++
		default:
			res.TmallOnly++
		}
	}

	if err := m.store.ReplaceGenerated(ctx, rows); err != nil {
		return Result{}, err
	}
	m.logger.Info("summary rebuilt",
		slog.Int("jd_products", len(jdProducts)),
		slog.Int("tmall_products", len(tmProducts)),
		slog.Int("pairs", res.Pairs),
		slog.Int("jd_only", res.JDOnly),
		slog.Int("tmall_only", res.TmallOnly))
	return res, nil
}

func excludeLinked(products []model.Product, linked map[uint]bool) ([]model.Product, int) {
	if len(linked) == 0 {
		return products, 0
	}
	out := products[:0:0]
	for _, p := range products {
		if !linked[p.ID] {
			out = append(out, p)
		}
	}
	return out, len(products) - len(out)
}
