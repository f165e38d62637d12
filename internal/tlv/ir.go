package tlv

import (
	"encoding/base64"
	"fmt"

	"github.com/roach88/talon/internal/ir"
)

// FromIR converts a result cell. Arrays and objects travel as Jsonb.
func FromIR(v ir.IRValue) (Value, error) {
	switch x := v.(type) {
	case nil, ir.IRNull:
		return Null(), nil
	case ir.IRInt:
		return Int(int64(x)), nil
	case ir.IRFloat:
		return Float(float64(x)), nil
	case ir.IRString:
		return Text(string(x)), nil
	case ir.IRBool:
		return Bool(bool(x)), nil
	case ir.IRArray, ir.IRObject:
		raw, err := ir.MarshalCanonical(x)
		if err != nil {
			return Value{}, err
		}
		return JSONB(raw), nil
	default:
		return Value{}, fmt.Errorf("tlv: unsupported value %T", v)
	}
}

// ArgIR converts a bound SQL parameter into the IR form the sql module
// accepts. Blobs become {"blob": <base64>}, timestamps become integers and
// Jsonb becomes its text.
func ArgIR(v Value) (ir.IRValue, error) {
	switch v.Tag {
	case TagNull:
		return ir.IRNull{}, nil
	case TagInteger, TagTimestamp:
		return ir.IRInt(v.Int), nil
	case TagFloat:
		return ir.IRFloat(v.Float), nil
	case TagText, TagJSONB:
		return ir.IRString(v.Bytes), nil
	case TagBlob:
		return ir.IRObject{"blob": ir.IRString(base64.StdEncoding.EncodeToString(v.Bytes))}, nil
	case TagBoolean:
		return ir.IRBool(v.Bool), nil
	default:
		return nil, fmt.Errorf("tlv: %s cannot be bound as a SQL parameter", v.Tag)
	}
}

// RowsFromResult flattens a sql query result ({"columns", "rows"}) into
// positional rows. Results without columns (DDL, DML) yield no rows.
func RowsFromResult(out ir.IRObject) ([][]Value, error) {
	colsVal, ok := out["columns"].(ir.IRArray)
	if !ok {
		return nil, nil
	}
	cols := make([]string, len(colsVal))
	for i, c := range colsVal {
		s, ok := c.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("tlv: column %d is %s", i, ir.TypeName(c))
		}
		cols[i] = string(s)
	}

	rowsVal, _ := out["rows"].(ir.IRArray)
	rows := make([][]Value, 0, len(rowsVal))
	for i, rv := range rowsVal {
		obj, ok := rv.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("tlv: row %d is %s", i, ir.TypeName(rv))
		}
		row := make([]Value, len(cols))
		for j, col := range cols {
			cell, err := FromIR(obj[col])
			if err != nil {
				return nil, fmt.Errorf("row %d col %q: %w", i, col, err)
			}
			row[j] = cell
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// HitsFromResult converts a vector search result ({"hits": [{"id", "score"}]}).
func HitsFromResult(out ir.IRObject) ([]Hit, error) {
	arr, _ := out["hits"].(ir.IRArray)
	hits := make([]Hit, 0, len(arr))
	for i, hv := range arr {
		obj, ok := hv.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("tlv: hit %d is %s", i, ir.TypeName(hv))
		}
		id, ok := obj["id"].(ir.IRInt)
		if !ok || id < 0 {
			return nil, fmt.Errorf("tlv: hit %d has no valid id", i)
		}
		var score float64
		switch s := obj["score"].(type) {
		case ir.IRFloat:
			score = float64(s)
		case ir.IRInt:
			score = float64(s)
		default:
			return nil, fmt.Errorf("tlv: hit %d has no score", i)
		}
		hits = append(hits, Hit{ID: uint64(id), Score: float32(score)})
	}
	return hits, nil
}
