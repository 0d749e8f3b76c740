package pricefont

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	woffHeaderSize   = 44
	woffDirEntrySize = 20
	sfntHeaderSize   = 12
	sfntRecordSize   = 16
)

var errTruncatedWOFF = errors.New("truncated woff data")

func isWOFF(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "wOFF"
}

type woffTable struct {
	tag        uint32
	offset     uint32
	compLength uint32
	origLength uint32
	checksum   uint32
}

// unwrapWOFF 把 WOFF 1.0 容器还原为 sfnt 字节，sfnt 包只接受未封装的字体。
func unwrapWOFF(data []byte) ([]byte, error) {
	if len(data) < woffHeaderSize {
		return nil, errTruncatedWOFF
	}
	flavor := binary.BigEndian.Uint32(data[4:8])
	numTables := int(binary.BigEndian.Uint16(data[12:14]))
	if numTables == 0 {
		return nil, fmt.Errorf("woff has no tables")
	}
	if len(data) < woffHeaderSize+numTables*woffDirEntrySize {
		return nil, errTruncatedWOFF
	}

	tables := make([]woffTable, numTables)
	for i := range tables {
		p := data[woffHeaderSize+i*woffDirEntrySize:]
		tables[i] = woffTable{
			tag:        binary.BigEndian.Uint32(p[0:4]),
			offset:     binary.BigEndian.Uint32(p[4:8]),
			compLength: binary.BigEndian.Uint32(p[8:12]),
			origLength: binary.BigEndian.Uint32(p[12:16]),
			checksum:   binary.BigEndian.Uint32(p[16:20]),
		}
	}

	searchRange, entrySelector := 1, 0
	for searchRange*2 <= numTables {
		searchRange *= 2
		entrySelector++
	}
	searchRange *= 16

	var out bytes.Buffer
	header := make([]byte, sfntHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], flavor)
	binary.BigEndian.PutUint16(header[4:6], uint16(numTables))
	binary.BigEndian.PutUint16(header[6:8], uint16(searchRange))
	binary.BigEndian.PutUint16(header[8:10], uint16(entrySelector))
	binary.BigEndian.PutUint16(header[10:12], uint16(numTables*16-searchRange))
	out.Write(header)

	records := make([]byte, numTables*sfntRecordSize)
	out.Write(records)

	offset := uint32(sfntHeaderSize + numTables*sfntRecordSize)
	for i, t := range tables {
		end := uint64(t.offset) + uint64(t.compLength)
		if end > uint64(len(data)) {
			return nil, errTruncatedWOFF
		}
		raw := data[t.offset:end]
		if t.compLength < t.origLength {
			zr, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("inflate table %d: %w", i, err)
			}
			inflated, err := io.ReadAll(io.LimitReader(zr, int64(t.origLength)+1))
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("inflate table %d: %w", i, err)
			}
			raw = inflated
		}
		if uint32(len(raw)) != t.origLength {
			return nil, fmt.Errorf("table %d length mismatch", i)
		}

		rec := records[i*sfntRecordSize:]
		binary.BigEndian.PutUint32(rec[0:4], t.tag)
		binary.BigEndian.PutUint32(rec[4:8], t.checksum)
		binary.BigEndian.PutUint32(rec[8:12], offset)
		binary.BigEndian.PutUint32(rec[12:16], t.origLength)

		out.Write(raw)
		pad := (4 - len(raw)%4) % 4
		out.Write(make([]byte, pad))
		offset += uint32(len(raw) + pad)
	}

	result := out.Bytes()
	copy(result[sfntHeaderSize:], records)
	return result, nil
}
