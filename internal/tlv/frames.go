package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeRows encodes a row set. Every row must have the same number of
// cells.
func EncodeRows(rows [][]Value) ([]byte, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
		if cols == 0 {
			return nil, fmt.Errorf("tlv: rows need at least one cell")
		}
	}
	buf := make([]byte, 0, 8+len(rows)*cols*9)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rows)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(cols))
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("tlv: row %d has %d cells, want %d", i, len(row), cols)
		}
		for _, v := range row {
			buf = Append(buf, v)
		}
	}
	return buf, nil
}

// DecodeRows decodes a row set.
func DecodeRows(data []byte) ([][]Value, error) {
	r := &reader{data: data}
	nrows, err := r.u32()
	if err != nil {
		return nil, err
	}
	ncols, err := r.u32()
	if err != nil {
		return nil, err
	}

	// Every cell is at least its tag byte.
	cells := uint64(nrows) * uint64(ncols)
	if nrows > 0 && ncols == 0 {
		return nil, fmt.Errorf("%w: %d rows without columns", ErrTruncated, nrows)
	}
	if left := uint64(len(data) - r.pos); cells > left {
		return nil, fmt.Errorf("%w: %d cells declared, %d bytes left", ErrTruncated, cells, left)
	}

	rows := make([][]Value, 0, nrows)
	for i := uint32(0); i < nrows; i++ {
		row := make([]Value, ncols)
		for j := range row {
			if row[j], err = r.value(); err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i, j, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EncodeParams encodes a positional parameter list.
func EncodeParams(params []Value) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(params)))
	for _, v := range params {
		buf = Append(buf, v)
	}
	return buf
}

// DecodeParams decodes a positional parameter list. Empty input is an empty
// list.
func DecodeParams(data []byte) ([]Value, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := &reader{data: data}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	params := make([]Value, 0, min(int(n), len(data)))
	for i := uint32(0); i < n; i++ {
		v, err := r.value()
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		params = append(params, v)
	}
	return params, nil
}

// Hit is one vector search result.
type Hit struct {
	ID    uint64
	Score float32
}

const hitSize = 12

// EncodeHits encodes vector search results.
func EncodeHits(hits []Hit) []byte {
	buf := make([]byte, 0, 4+len(hits)*hitSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(hits)))
	for _, h := range hits {
		buf = binary.LittleEndian.AppendUint64(buf, h.ID)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(h.Score))
	}
	return buf
}

// DecodeHits decodes vector search results.
func DecodeHits(data []byte) ([]Hit, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: hit count", ErrTruncated)
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data)-4 < n*hitSize {
		return nil, fmt.Errorf("%w: %d hits need %d bytes, have %d", ErrTruncated, n, 4+n*hitSize, len(data))
	}
	hits := make([]Hit, n)
	for i := range hits {
		off := 4 + i*hitSize
		hits[i] = Hit{
			ID:    binary.LittleEndian.Uint64(data[off:]),
			Score: math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:])),
		}
	}
	return hits, nil
}
