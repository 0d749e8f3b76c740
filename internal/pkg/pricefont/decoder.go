package pricefont

import (
	"math"
	"strconv"
	"strings"
)

// Decoder 把混淆字体中的字形码位还原为价格字符。
//
// 码位表在每次运行时从字体文件（或预先导出的 JSON 映射）加载一次，之后只读，
// 可以在多个 goroutine 间共享。nil Decoder 对任何输入都返回 0。
type Decoder struct {
	table map[rune]rune
}

// NewDecoder 根据码位 -> 字符映射创建解码器。
//
// 只保留值为 '0'..'9' 或 '.' 的条目，其余条目被忽略。
func NewDecoder(table map[rune]rune) *Decoder {
	d := &Decoder{table: make(map[rune]rune, len(table))}
	for k, v := range table {
		if isPriceRune(v) {
			d.table[k] = v
		}
	}
	return d
}

// Len 返回映射条目数。
func (d *Decoder) Len() int {
	if d == nil {
		return 0
	}
	return len(d.table)
}

// Lookup 查询单个码位对应的价格字符。
func (d *Decoder) Lookup(r rune) (rune, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d.table[r]
	return v, ok
}

// Decode 将加密价格字符串解码为数值。
//
// 解码失败不返回错误，只以 0 表示：空串、任一字符无法映射、
// 替换后的字符串不是合法小数（例如出现两个小数点）都返回 0。
// 结果保留两位小数。
//
// 参数:
//
//	s: 页面上显示的加密价格文本
//
// 返回值:
//
//	float64: 价格，失败时为 0
func (d *Decoder) Decode(s string) float64 {
	s = strings.TrimSpace(s)
	if d == nil || s == "" {
		return 0
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		v, ok := d.table[r]
		if !ok {
			return 0
		}
		b.WriteRune(v)
	}

	plain := b.String()
	if strings.Count(plain, ".") > 1 || strings.Trim(plain, ".") == "" {
		return 0
	}
	val, err := strconv.ParseFloat(plain, 64)
	if err != nil || val < 0 || math.IsInf(val, 0) || math.IsNaN(val) {
		return 0
	}
	return math.Round(val*100) / 100
}

func isPriceRune(r rune) bool {
	return r == '.' || (r >= '0' && r <= '9')
}
