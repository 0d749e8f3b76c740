package pricefont

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font/sfnt"
)

// ErrNoDigitGlyphs 表示字体中没有找到任何数字字形。
var ErrNoDigitGlyphs = errors.New("font has no digit glyphs")

// glyphNames 字形名 -> 价格字符。兼容两种命名：postscript 名（zero..nine, period）与字面名（0..9, .）。
var glyphNames = map[string]rune{
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"period": '.', ".": '.',
	"0": '0', "1": '1', "2": '2', "3": '3', "4": '4',
	"5": '5', "6": '6', "7": '7', "8": '8', "9": '9',
}

// LoadFile 按扩展名加载解码器：.json 为预导出的映射表，其余按字体文件处理。
func LoadFile(path string) (*Decoder, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadMapping(path)
	}
	return LoadFont(path)
}

// LoadFont 读取 TTF/OTF/WOFF 字体，建立码位 -> 数字的映射。
//
// 参数:
//
//	path: 字体文件路径
//
// 返回值:
//
//	*Decoder: 解码器
//	error: 文件读取、字体解析失败，或字体中不含数字字形
func LoadFont(path string) (*Decoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	return ParseFont(data)
}

// ParseFont 从字体字节建立解码器。
func ParseFont(data []byte) (*Decoder, error) {
	if isWOFF(data) {
		unwrapped, err := unwrapWOFF(data)
		if err != nil {
			return nil, fmt.Errorf("unwrap woff: %w", err)
		}
		data = unwrapped
	}

	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}

	var buf sfnt.Buffer
	table := make(map[rune]rune)
	// cmap 不能直接遍历，逐个查询 BMP 码位（跳过代理区）。
	for r := rune(0x20); r <= 0xFFFF; r++ {
		if r >= 0xD800 && r <= 0xDFFF {
			continue
		}
		idx, err := f.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			continue
		}
		name, err := f.GlyphName(&buf, idx)
		if err != nil || name == "" {
			continue
		}
		if v, ok := glyphNames[name]; ok {
			table[r] = v
		}
	}
	if len(table) == 0 {
		return nil, ErrNoDigitGlyphs
	}
	return NewDecoder(table), nil
}

// LoadMapping 读取 JSON 映射表，格式为 {"<字形>": "<数字或小数点>"}。
func LoadMapping(path string) (*Decoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping 解析 JSON 映射表。
func ParseMapping(data []byte) (*Decoder, error) {
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	table := make(map[rune]rune, len(raw))
	for k, v := range raw {
		if utf8.RuneCountInString(k) != 1 || utf8.RuneCountInString(v) != 1 {
			return nil, fmt.Errorf("invalid mapping entry %q -> %q", k, v)
		}
		key, _ := utf8.DecodeRuneInString(k)
		val, _ := utf8.DecodeRuneInString(v)
		if !isPriceRune(val) {
			return nil, fmt.Errorf("invalid mapping value %q for %q", v, k)
		}
		table[key] = val
	}
	if len(table) == 0 {
		return nil, ErrNoDigitGlyphs
	}
	return NewDecoder(table), nil
}
