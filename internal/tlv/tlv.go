// Package tlv is the binary codec used by the _bin boundary calls.
//
// Every value is a one-byte tag followed by a little-endian payload:
//
//	0 Null       (no payload)
//	1 Integer    i64
//	2 Float      f64
//	3 Text       u32 length + UTF-8 bytes
//	4 Blob       u32 length + bytes
//	5 Boolean    u8
//	6 Jsonb      u32 length + JSON text
//	7 Vector     u32 dimension + f32 * dimension
//	8 Timestamp  i64
//	9 GeoPoint   f64 latitude + f64 longitude
//
// Row sets are "row_count u32, col_count u32" followed by the cells in row
// order. Parameter lists are "count u32" followed by the values. Vector hits
// are "count u32" followed by (id u64, score f32) pairs.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Tag identifies a value's type on the wire.
type Tag byte

// Wire tags.
const (
	TagNull Tag = iota
	TagInteger
	TagFloat
	TagText
	TagBlob
	TagBoolean
	TagJSONB
	TagVector
	TagTimestamp
	TagGeoPoint
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagInteger:
		return "integer"
	case TagFloat:
		return "float"
	case TagText:
		return "text"
	case TagBlob:
		return "blob"
	case TagBoolean:
		return "boolean"
	case TagJSONB:
		return "jsonb"
	case TagVector:
		return "vector"
	case TagTimestamp:
		return "timestamp"
	case TagGeoPoint:
		return "geopoint"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// ErrTruncated reports input that ends inside a value.
var ErrTruncated = errors.New("tlv: truncated input")

// Value is one decoded cell. Which fields are meaningful depends on Tag:
// Int for Integer and Timestamp, Float for Float, Bytes for Text, Blob and
// Jsonb, Bool for Boolean, Vec for Vector, Lat/Lon for GeoPoint.
type Value struct {
	Tag   Tag
	Int   int64
	Float float64
	Bytes []byte
	Bool  bool
	Vec   []float32
	Lat   float64
	Lon   float64
}

// Null returns a Null value.
func Null() Value { return Value{Tag: TagNull} }

// Int returns an Integer value.
func Int(v int64) Value { return Value{Tag: TagInteger, Int: v} }

// Float returns a Float value.
func Float(v float64) Value { return Value{Tag: TagFloat, Float: v} }

// Text returns a Text value.
func Text(s string) Value { return Value{Tag: TagText, Bytes: []byte(s)} }

// Blob returns a Blob value.
func Blob(b []byte) Value { return Value{Tag: TagBlob, Bytes: b} }

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{Tag: TagBoolean, Bool: b} }

// JSONB returns a Jsonb value holding raw JSON text.
func JSONB(raw []byte) Value { return Value{Tag: TagJSONB, Bytes: raw} }

// Vector returns a Vector value.
func Vector(v []float32) Value { return Value{Tag: TagVector, Vec: v} }

// Timestamp returns a Timestamp value in milliseconds.
func Timestamp(ms int64) Value { return Value{Tag: TagTimestamp, Int: ms} }

// GeoPoint returns a GeoPoint value.
func GeoPoint(lat, lon float64) Value { return Value{Tag: TagGeoPoint, Lat: lat, Lon: lon} }

// Append encodes v onto buf.
func Append(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Tag))
	switch v.Tag {
	case TagInteger, TagTimestamp:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
	case TagFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
	case TagText, TagBlob, TagJSONB:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Bytes)))
		buf = append(buf, v.Bytes...)
	case TagBoolean:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TagVector:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Vec)))
		for _, f := range v.Vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	case TagGeoPoint:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Lat))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Lon))
	}
	return buf
}

// reader walks a buffer, failing with ErrTruncated on short reads.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.pos < n {
		return nil, fmt.Errorf("%w at byte %d", ErrTruncated, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) value() (Value, error) {
	tb, err := r.take(1)
	if err != nil {
		return Value{}, err
	}
	v := Value{Tag: Tag(tb[0])}
	switch v.Tag {
	case TagNull:
	case TagInteger, TagTimestamp:
		u, err := r.u64()
		if err != nil {
			return Value{}, err
		}
		v.Int = int64(u)
	case TagFloat:
		u, err := r.u64()
		if err != nil {
			return Value{}, err
		}
		v.Float = math.Float64frombits(u)
	case TagText, TagBlob, TagJSONB:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		if v.Tag != TagBlob && !utf8.Valid(b) {
			return Value{}, fmt.Errorf("tlv: invalid UTF-8 in %s at byte %d", v.Tag, r.pos-len(b))
		}
		v.Bytes = append([]byte(nil), b...)
	case TagBoolean:
		b, err := r.take(1)
		if err != nil {
			return Value{}, err
		}
		v.Bool = b[0] != 0
	case TagVector:
		dim, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(int(dim) * 4)
		if err != nil {
			return Value{}, err
		}
		v.Vec = make([]float32, dim)
		for i := range v.Vec {
			v.Vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	case TagGeoPoint:
		lat, err := r.u64()
		if err != nil {
			return Value{}, err
		}
		lon, err := r.u64()
		if err != nil {
			return Value{}, err
		}
		v.Lat, v.Lon = math.Float64frombits(lat), math.Float64frombits(lon)
	default:
		return Value{}, fmt.Errorf("tlv: unknown tag %d at byte %d", tb[0], r.pos-1)
	}
	return v, nil
}

// Decode reads one value from the front of data and reports how many bytes
// it used.
func Decode(data []byte) (Value, int, error) {
	r := &reader{data: data}
	v, err := r.value()
	return v, r.pos, err
}
