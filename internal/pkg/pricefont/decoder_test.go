package pricefont

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// testTable 模拟天猫混淆字体：私有区码位映射到打乱的数字。
func testTable() map[rune]rune {
	return map[rune]rune{
		'': '2',
		'': '9',
		'': '0',
		'': '.',
		'': '1',
		'': '5',
	}
}

func TestDecode(t *testing.T) {
	d := NewDecoder(testTable())

	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{"integer_with_cents", "", 299.00},
		{"no_fraction", "", 150},
		{"fraction", "", 1.5},
		{"surrounding_space", "   ", 100},
		{"empty", "", 0},
		{"only_space", "   ", 0},
		{"unmapped_glyph", "", 0},
		{"plain_digit_not_in_table", "" + "3", 0},
		{"two_periods", "", 0},
		{"only_period", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Decode(tt.input); got != tt.expected {
				t.Errorf("Decode(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDecode_SubstitutionProperty(t *testing.T) {
	table := testTable()
	d := NewDecoder(table)

	inverse := map[rune]rune{}
	for k, v := range table {
		inverse[v] = k
	}
	cases := map[string]float64{
		"0":      0,
		"1":      1,
		"2.5":    2.5,
		"10.05":  10.05,
		"599":    599,
		"912.10": 912.1,
	}
	for plain, want := range cases {
		var enc []rune
		for _, r := range plain {
			g, ok := inverse[r]
			if !ok {
				// 表中没有的数字跳过
				enc = nil
				break
			}
			enc = append(enc, g)
		}
		if enc == nil {
			continue
		}
		if got := d.Decode(string(enc)); got != want {
			t.Errorf("decode(encode(%q)) = %v, want %v", plain, got, want)
		}
	}
}

func TestNilDecoder(t *testing.T) {
	var d *Decoder
	if got := d.Decode(""); got != 0 {
		t.Fatalf("nil decoder should return 0, got %v", got)
	}
	if d.Len() != 0 {
		t.Fatalf("nil decoder should be empty")
	}
}

func TestNewDecoder_DropsInvalidValues(t *testing.T) {
	d := NewDecoder(map[rune]rune{'a': '1', 'b': 'x', 'c': '.'})
	if d.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", d.Len())
	}
	if _, ok := d.Lookup('b'); ok {
		t.Fatalf("invalid value should be dropped")
	}
}

func TestParseMapping(t *testing.T) {
	d, err := ParseMapping([]byte(`{"":"2","":"9","":"."}`))
	if err != nil {
		t.Fatalf("parse mapping: %v", err)
	}
	if got := d.Decode(""); got != 9.2 {
		t.Fatalf("expected 9.2, got %v", got)
	}

	if _, err := ParseMapping([]byte(`{"":"x"}`)); err == nil {
		t.Fatalf("expected error for non digit value")
	}
	if _, err := ParseMapping([]byte(`{"ab":"1"}`)); err == nil {
		t.Fatalf("expected error for multi-rune key")
	}
	if _, err := ParseMapping([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty mapping")
	}
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tmall_price.json")
	if err := os.WriteFile(path, []byte(`{"":"1","":"0"}`), 0o644); err != nil {
		t.Fatalf("write mapping: %v", err)
	}
	d, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if got := d.Decode(""); got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
}

func TestLoadFont_MissingFile(t *testing.T) {
	if _, err := LoadFont(filepath.Join(t.TempDir(), "missing.woff")); err == nil {
		t.Fatalf("expected error for missing font")
	}
}

func TestUnwrapWOFF_RoundTrip(t *testing.T) {
	woff := wrapWOFF(t, goregular.TTF)
	if !isWOFF(woff) {
		t.Fatalf("wrapped data should carry woff signature")
	}

	unwrapped, err := unwrapWOFF(woff)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}

	orig, err := sfnt.Parse(goregular.TTF)
	if err != nil {
		t.Fatalf("parse original: %v", err)
	}
	got, err := sfnt.Parse(unwrapped)
	if err != nil {
		t.Fatalf("parse unwrapped: %v", err)
	}
	if got.NumGlyphs() != orig.NumGlyphs() {
		t.Fatalf("glyph count mismatch: %d vs %d", got.NumGlyphs(), orig.NumGlyphs())
	}

	var buf sfnt.Buffer
	want, _ := orig.GlyphIndex(&buf, '7')
	have, _ := got.GlyphIndex(&buf, '7')
	if want == 0 || want != have {
		t.Fatalf("glyph index for '7' mismatch: %d vs %d", want, have)
	}
}

func TestUnwrapWOFF_Truncated(t *testing.T) {
	if _, err := unwrapWOFF([]byte("wOFF")); err == nil {
		t.Fatalf("expected error for truncated header")
	}
}

// wrapWOFF 把 sfnt 字节封装为 WOFF 1.0，所有表都做 zlib 压缩。
func wrapWOFF(t *testing.T, ttf []byte) []byte {
	t.Helper()
	numTables := int(binary.BigEndian.Uint16(ttf[4:6]))

	type entry struct {
		tag, checksum uint32
		orig          []byte
		comp          []byte
	}
	entries := make([]entry, numTables)
	for i := range entries {
		rec := ttf[12+i*16:]
		off := binary.BigEndian.Uint32(rec[8:12])
		length := binary.BigEndian.Uint32(rec[12:16])
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(ttf[off : off+length]); err != nil {
			t.Fatalf("compress: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("compress close: %v", err)
		}
		comp := zbuf.Bytes()
		if len(comp) >= int(length) {
			comp = ttf[off : off+length]
		}
		entries[i] = entry{
			tag:      binary.BigEndian.Uint32(rec[0:4]),
			checksum: binary.BigEndian.Uint32(rec[4:8]),
			orig:     ttf[off : off+length],
			comp:     comp,
		}
	}

	header := make([]byte, woffHeaderSize)
	copy(header[0:4], "wOFF")
	copy(header[4:8], ttf[0:4])
	binary.BigEndian.PutUint16(header[12:14], uint16(numTables))

	dir := make([]byte, numTables*woffDirEntrySize)
	var body bytes.Buffer
	offset := uint32(woffHeaderSize + len(dir))
	for i, e := range entries {
		d := dir[i*woffDirEntrySize:]
		binary.BigEndian.PutUint32(d[0:4], e.tag)
		binary.BigEndian.PutUint32(d[4:8], offset)
		binary.BigEndian.PutUint32(d[8:12], uint32(len(e.comp)))
		binary.BigEndian.PutUint32(d[12:16], uint32(len(e.orig)))
		binary.BigEndian.PutUint32(d[16:20], e.checksum)
		body.Write(e.comp)
		pad := (4 - len(e.comp)%4) % 4
		body.Write(make([]byte, pad))
		offset += uint32(len(e.comp) + pad)
	}

	out := append(header, dir...)
	out = append(out, body.Bytes()...)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(out)))
	return out
}
