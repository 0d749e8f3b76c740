package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"toytracker/internal/config"
	"toytracker/internal/model"
)

// BuildJDPageURL 构造京东店铺搜索页的 URL。
//
// 模板中的 %d 替换为页码；模板不含占位符时只在第一页返回原地址。
//
// 参数:
//
//	tmpl: 页面地址模板，例如 https://mall.jd.com/view_search-396211-17821117-99-1-20-%d.html
//	page: 页码，从 1 开始
//
// 返回值:
//
//	string: 完整地址，无法构造时为空串
func BuildJDPageURL(tmpl string, page int) string {
	if page < 1 {
		page = 1
	}
	if !strings.Contains(tmpl, "%d") {
		if page == 1 {
			return tmpl
		}
		return ""
	}
	return fmt.Sprintf(tmpl, page)
}

// BuildTmallPageURL 在天猫分类页地址上设置 pageNo 参数，第一页保持原地址。
func BuildTmallPageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	values := u.Query()
	values.Set("pageNo", strconv.Itoa(page))
	u.RawQuery = values.Encode()
	return u.String()
}

// BuildRequests 根据抓取配置生成本次运行的全部页面请求，京东在前。
func BuildRequests(cfg config.CrawlConfig, platforms ...model.Platform) []PageRequest {
	if len(platforms) == 0 {
		platforms = model.Platforms()
	}
	var reqs []PageRequest
	for _, p := range platforms {
		switch p {
		case model.PlatformJD:
			for page := 1; page <= cfg.JDPages; page++ {
				if u := BuildJDPageURL(cfg.JDPageURL, page); u != "" {
					reqs = append(reqs, PageRequest{Platform: p, URL: u, Page: page})
				}
			}
		case model.PlatformTmall:
			for _, base := range cfg.TmallPageURLs {
				for page := 1; page <= cfg.TmallPages; page++ {
					if u := BuildTmallPageURL(base, page); u != "" {
						reqs = append(reqs, PageRequest{Platform: p, URL: u, Page: page})
					}
				}
			}
		}
	}
	return reqs
}
