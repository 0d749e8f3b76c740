package crawler

import (
	"context"
	"errors"
	"strings"
)

// 页面检测关键词
var (
	loginHints = []string{
		"密码登录",
		"短信登录",
		"扫码登录",
		"passport.jd.com",
		"login.taobao.com",
		"login.tmall.com",
	}
	captchaHints = []string{
		"滑块验证",
		"请完成安全验证",
		"nc_1_n1z",
		"baxia-dialog",
		"punish?x5secdata",
	}
	blockedHints = []string{
		"访问被拒绝",
		"访问受限",
		"操作太频繁",
		"access denied",
		"403 forbidden",
		"429 too many requests",
		"too many requests",
	}
	noItemsHints = []string{
		"没有找到",
		"暂无商品",
		"抱歉，没有",
	}
)

// 页面拦截类型
const (
	blockLogin     = "login_required"
	blockCaptcha   = "captcha"
	blockForbidden = "403_forbidden"
	blockBlank     = "blank_page"
)

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// detectBlockType 根据页面标题、地址和 HTML 判断是否被拦截，正常页面返回空串。
func detectBlockType(title, pageURL, html string) string {
	lowerTitle := strings.ToLower(title)
	lowerURL := strings.ToLower(pageURL)
	lowerHTML := strings.ToLower(html)

	if strings.TrimSpace(html) == "" || lowerURL == "about:blank" {
		return blockBlank
	}
	if strings.Contains(lowerURL, "login") || containsAny(lowerURL, loginHints) ||
		strings.Contains(title, "登录") || containsAny(html, loginHints[:3]) {
		return blockLogin
	}
	if containsAny(lowerHTML, captchaHints) || strings.Contains(title, "验证") {
		return blockCaptcha
	}
	if strings.Contains(lowerTitle, "403") || strings.Contains(lowerTitle, "forbidden") ||
		containsAny(lowerHTML, blockedHints) {
		return blockForbidden
	}
	return ""
}

// isNoItemsPage 页面明确提示没有商品。
func isNoItemsPage(text string) bool {
	return text != "" && containsAny(text, noItemsHints)
}

// blockedError 页面被拦截。
type blockedError struct {
	kind string
}

func (e *blockedError) Error() string { return "blocked_page: " + e.kind }

// classifyCrawlStatus 返回用于 metrics 的抓取状态字符串。
func classifyCrawlStatus(err error, items int) string {
	if err == nil {
		if items == 0 {
			return "empty"
		}
		return "ok"
	}
	if errors.Is(err, ErrPageSeen) {
		return "deduplicated"
	}
	var be *blockedError
	if errors.As(err, &be) {
		if be.kind == blockLogin {
			return "login"
		}
		return "blocked"
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return "timeout"
	}
	return "error"
}
