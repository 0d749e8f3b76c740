package crawler

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"toytracker/internal/catalog"
	"toytracker/internal/model"

	"github.com/PuerkitoBio/goquery"
)

var (
	jdItemIDRe    = regexp.MustCompile(`item\.jd\.com/(\d+)\.html`)
	jdThumbSizeRe = regexp.MustCompile(`/n\d+_`)
	tmallItemIDRe = regexp.MustCompile(`[?&]id=(\d+)`)
)

// jdModuleSelector 店铺装修页中的商品列表模块。
const jdModuleSelector = `.j-module[module-function*="saleAttent"][module-param*="product"]`

// ParseListings 从列表页 HTML 中抽取商品记录。
//
// 缺少商品 ID 的卡片原样保留（ExternalID 为空），由入库流程计为抽取失败。
func ParseListings(p model.Platform, r io.Reader, pageURL string) ([]model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(pageURL)
	switch p {
	case model.PlatformJD:
		return parseJDListings(doc, base), nil
	case model.PlatformTmall:
		return parseTmallListings(doc, base), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}
}

func parseJDListings(doc *goquery.Document, base *url.URL) []model.Listing {
	root := doc.Find(jdModuleSelector)
	if root.Length() == 0 {
		root = doc.Selection
	}

	var out []model.Listing
	root.Find(".jItem").Each(func(_ int, item *goquery.Selection) {
		img := item.Find(".jPic img").First()
		link := item.Find(".jDesc a").First()
		href := resolveURL(base, attr(link, "href"))

		var id string
		if m := jdItemIDRe.FindStringSubmatch(href); m != nil {
			id = m[1]
		}
		imgURL := firstAttr(img, "src", "data-lazy-img", "original")
		imgURL = jdThumbSizeRe.ReplaceAllString(resolveURL(base, imgURL), "/n0_")

		title := strings.TrimSpace(attr(img, "alt"))
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}

		price := item.Find(".jdNum").First()
		l := model.Listing{
			ExternalID: id,
			Title:      title,
			URL:        href,
			ImageURL:   imgURL,
			Price:      strings.TrimSpace(attr(price, "preprice")),
		}
		if l.Price == "" {
			l.Price = strings.TrimSpace(price.Text())
		}
		switch {
		case attr(price, "data-hide-price") == "true":
			l.Pending = true
			l.Price = ""
		case catalog.ParsePlainPrice(l.Price) <= 0:
			// 既无有效价格也未标记待发布的卡片不是在售商品
			return
		}
		out = append(out, l)
	})
	return out
}

func parseTmallListings(doc *goquery.Document, base *url.URL) []model.Listing {
	var out []model.Listing
	doc.Find("[data-id]").Each(func(_ int, item *goquery.Selection) {
		link := item.Find(`a[href*="item"]`).First()
		if link.Length() == 0 {
			link = item.Find("a").First()
		}
		href := resolveURL(base, attr(link, "href"))
		if !strings.Contains(href, "item") {
			return
		}

		// 商品 ID 以链接中的 id= 为准，data-id 只在链接缺少 id 时使用
		var id string
		if m := tmallItemIDRe.FindStringSubmatch(href); m != nil {
			id = m[1]
		} else {
			id = strings.TrimSpace(attr(item, "data-id"))
		}

		img := item.Find("img").First()
		title := strings.TrimSpace(firstAttr(img, "alt", "title"))
		if title == "" {
			title = strings.TrimSpace(item.Find(".item-name, .title").First().Text())
		}

		raw := strings.TrimSpace(item.Find(".c-price").First().Text())
		raw = strings.TrimSpace(strings.TrimLeft(raw, "¥￥"))
		out = append(out, model.Listing{
			ExternalID: id,
			Title:      title,
			URL:        href,
			ImageURL:   resolveURL(base, firstAttr(img, "src", "data-ks-lazyload")),
			Price:      raw,
			Obfuscated: raw != "",
			Pending:    raw == "",
		})
	})
	return out
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return v
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(attr(s, n)); v != "" {
			return v
		}
	}
	return ""
}

// resolveURL 补全协议相对地址与站内相对地址。
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() || base == nil || base.Host == "" {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
