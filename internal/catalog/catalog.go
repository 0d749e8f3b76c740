// Package catalog 从商品标题中解析款式、等级、角色等标签。
//
// 所有函数都是纯函数，输入为空时返回零值。
package catalog

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// 等级标签（封闭集合）。
const (
	LevelSupreme = "至高级"
	LevelMaster  = "大师级"
	LevelTitan   = "泰坦级"
	LevelLeader  = "领袖级"
	LevelVoyager = "航行家级"
	LevelDeluxe  = "加强级"
	LevelCore    = "核心级"
)

const (
	brandPrefix = "变形金刚"
	makerPrefix = "孩之宝"
)

var (
	reLenticular = regexp.MustCompile(`【[^】]*】`)
	reHalfParen  = regexp.MustCompile(`\([^（）]*\)`)
	reFullParen  = regexp.MustCompile(`（[^（）]*）`)

	reLeadingTag   = regexp.MustCompile(`^【[^】]+】`)
	reLeadingBrand = regexp.MustCompile(`^变形金刚[（(]Transformers[）)]*`)
	reBrackets     = regexp.MustCompile(`[【】()（）]`)

	reModelG   = regexp.MustCompile(`G(\d{3,4})`)
	reModelSS  = regexp.MustCompile(`(?i)SS(\d{2,4})`)
	reModelMP  = regexp.MustCompile(`(?i)(MP[GM]?-\d{2,4}|MPM-\d+)`)
	reModelE   = regexp.MustCompile(`E(\d{4})`)
	reModelF   = regexp.MustCompile(`F(\d{4})`)
	pricePunct = strings.NewReplacer("¥", "", "￥", "", ",", "", "，", "", " ", "", "元", "")
)

// presaleKeywords 预售/定金类商品关键字，这类商品只是尾款或定金链接，价格不代表成交价。
var presaleKeywords = []string{"尾款", "全款预售", "预售", "定金", "预付", "预订"}

var roles = []string{
	"擎天柱", "威震天", "大黄蜂", "铁皮", "救护车", "警车", "红蜘蛛", "震荡波",
	"探长", "千斤顶", "热破", "热浪", "横炮", "飞毛腿", "弹簧", "大无畏",
	"钢锁", "通天晓", "大力神", "大力金刚", "老鼠", "犀牛", "侏罗", "渣客",
	"路障", "声波", "机器狗", "飞天虎", "飙车", "狂飙", "泰山", "幽浮",
	"利格拉斯", "艾丽塔", "黑寡妇", "天火", "达拉克", "索莉拉",
	"腹地", "轰隆隆", "大火车", "幻影", "机器昆虫",
}

var versions = []string{
	"86大电影", "起源", "决战塞伯坦", "围城", "地出", "传世", "天元",
	"40周年", "周年纪念", "战损", "限定", "限量", "复古挂卡", "机器恐龙",
	"经典电影", "电影7", "电影6", "电影4", "雷霆救援队", "超能勇士",
	"王国", "SDCC", "PULSE", "YELLOW",
}

// NormalizeTitle 把全角字母数字折叠为半角并去掉首尾空白。
func NormalizeTitle(title string) string {
	return strings.TrimSpace(width.Fold.String(title))
}

// StyleName 提取款式名：去掉品牌前缀、【】块以及括号中的内容。
func StyleName(title string) string {
	if title == "" {
		return ""
	}
	s := strings.TrimSpace(strings.ReplaceAll(title, brandPrefix, ""))
	s = strings.TrimSpace(reLenticular.ReplaceAllString(s, ""))
	s = strings.TrimSpace(reHalfParen.ReplaceAllString(s, ""))
	s = strings.TrimSpace(reFullParen.ReplaceAllString(s, ""))
	return s
}

// Level 根据标题关键字推断等级，无法识别时返回空串。
//
// 规则按优先级匹配：
//
//	MPM-                      -> 至高级
//	MP- / MPG- / 大师级        -> 大师级
//	泰坦级 / 以 L级 结尾 / V级  -> 泰坦级
//	领袖级 / 指挥官级           -> 领袖级
//	航行家级                   -> 航行家级
//	加强级 / 以 C级 结尾 / -BASIC -> 加强级
//	核心级                     -> 核心级
func Level(title string) string {
	t := strings.ToUpper(NormalizeTitle(title))
	if t == "" {
		return ""
	}
	switch {
	case strings.Contains(t, "MPM-"):
		return LevelSupreme
	case strings.Contains(t, "MP-"), strings.Contains(t, "MPG-"), strings.Contains(t, LevelMaster):
		return LevelMaster
	case strings.Contains(t, LevelTitan), strings.HasSuffix(t, "L级"), strings.Contains(t, "V级"):
		return LevelTitan
	case strings.Contains(t, LevelLeader), strings.Contains(t, "指挥官级"):
		return LevelLeader
	case strings.Contains(t, LevelVoyager):
		return LevelVoyager
	case strings.Contains(t, LevelDeluxe), strings.HasSuffix(t, "C级"), strings.Contains(t, "-BASIC"):
		return LevelDeluxe
	case strings.Contains(t, LevelCore):
		return LevelCore
	}
	return ""
}

// IsPresale 判断标题是否为预售/定金/尾款类商品。
func IsPresale(title string) bool {
	for _, kw := range presaleKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

// CleanTitle 清理标题用于展示与匹配：去掉开头的【】标签、品牌前缀和所有括号字符。
func CleanTitle(title string) string {
	if title == "" {
		return ""
	}
	s := reLeadingTag.ReplaceAllString(title, "")
	s = reLeadingBrand.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, makerPrefix)
	s = reBrackets.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Role 返回标题中出现的第一个角色名。
func Role(title string) string {
	return firstContained(title, roles)
}

// Version 返回标题中出现的第一个版本/作品名。
func Version(title string) string {
	return firstContained(title, versions)
}

// ModelNumber 提取型号编号（G / SS / MP 系列 / E / F 编号），按此优先级。
func ModelNumber(title string) string {
	if m := reModelG.FindStringSubmatch(title); m != nil {
		return "G" + m[1]
	}
	if m := reModelSS.FindStringSubmatch(title); m != nil {
		return "SS" + m[1]
	}
	if m := reModelMP.FindStringSubmatch(title); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := reModelE.FindStringSubmatch(title); m != nil {
		return "E" + m[1]
	}
	if m := reModelF.FindStringSubmatch(title); m != nil {
		return "F" + m[1]
	}
	return ""
}

// ParsePlainPrice 解析明文价格（如 "¥1,299.00"），失败或为负时返回 0。
func ParsePlainPrice(text string) float64 {
	s := pricePunct.Replace(NormalizeTitle(text))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return math.Round(v*100) / 100
}

func firstContained(title string, candidates []string) string {
	for _, c := range candidates {
		if strings.Contains(title, c) {
			return c
		}
	}
	return ""
}
