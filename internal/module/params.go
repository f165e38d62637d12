package module

import (
	"encoding/base64"
	"math"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/talon/internal/ir"
)

// EncodingKey marks an object whose byte fields are base64 encoded.
const EncodingKey = "encoding"

// EncodingBase64 is the only recognized EncodingKey value.
const EncodingBase64 = "base64"

// Params gives typed access to a command's params object.
// Every accessor reports problems as ValidationError attributed to the module.
type Params struct {
	module string
	obj    ir.IRObject
}

// NewParams wraps obj for module. A nil obj behaves as an empty object.
func NewParams(module string, obj ir.IRObject) Params {
	if obj == nil {
		obj = ir.IRObject{}
	}
	return Params{module: module, obj: obj}
}

// Module returns the module the params belong to.
func (p Params) Module() string {
	return p.module
}

// Raw returns a deep copy of the underlying object.
func (p Params) Raw() ir.IRObject {
	return p.obj.Clone()
}

// Has reports whether key is present with a non-null value.
func (p Params) Has(key string) bool {
	v, ok := p.obj[key]
	if !ok {
		return false
	}
	_, null := v.(ir.IRNull)
	return !null
}

// Value returns the raw value for key.
func (p Params) Value(key string) (ir.IRValue, bool) {
	if !p.Has(key) {
		return nil, false
	}
	return p.obj[key], true
}

func (p Params) invalid(format string, args ...any) error {
	return ir.ModuleErrorf(ir.KindValidationError, p.module, format, args...)
}

func (p Params) missing(key string) error {
	return p.invalid("missing required param %q", key)
}

func (p Params) wrongType(key, want string) error {
	return p.invalid("param %q must be %s, got %s", key, want, ir.TypeName(p.obj[key]))
}

// String returns a required string param.
func (p Params) String(key string) (string, error) {
	if !p.Has(key) {
		return "", p.missing(key)
	}
	s, ok := p.obj[key].(ir.IRString)
	if !ok {
		return "", p.wrongType(key, "a string")
	}
	return string(s), nil
}

// OptString returns a string param or def when absent.
func (p Params) OptString(key, def string) (string, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.String(key)
}

// Int returns a required integer param. Integral floats are accepted.
func (p Params) Int(key string) (int64, error) {
	if !p.Has(key) {
		return 0, p.missing(key)
	}
	switch v := p.obj[key].(type) {
	case ir.IRInt:
		return int64(v), nil
	case ir.IRFloat:
		f := float64(v)
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, p.wrongType(key, "an integer")
		}
		return int64(f), nil
	default:
		return 0, p.wrongType(key, "an integer")
	}
}

// OptInt returns an integer param or def when absent.
func (p Params) OptInt(key string, def int64) (int64, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Int(key)
}

// Float returns a required numeric param.
func (p Params) Float(key string) (float64, error) {
	if !p.Has(key) {
		return 0, p.missing(key)
	}
	f, ok := numeric(p.obj[key])
	if !ok {
		return 0, p.wrongType(key, "a number")
	}
	return f, nil
}

// OptBool returns a boolean param or def when absent.
func (p Params) OptBool(key string, def bool) (bool, error) {
	if !p.Has(key) {
		return def, nil
	}
	b, ok := p.obj[key].(ir.IRBool)
	if !ok {
		return false, p.wrongType(key, "a boolean")
	}
	return bool(b), nil
}

// Array returns a required array param.
func (p Params) Array(key string) (ir.IRArray, error) {
	if !p.Has(key) {
		return nil, p.missing(key)
	}
	arr, ok := p.obj[key].(ir.IRArray)
	if !ok {
		return nil, p.wrongType(key, "an array")
	}
	return arr, nil
}

// Object returns an optional object param; ok is false when absent.
func (p Params) Object(key string) (ir.IRObject, bool, error) {
	if !p.Has(key) {
		return nil, false, nil
	}
	obj, ok := p.obj[key].(ir.IRObject)
	if !ok {
		return nil, false, p.wrongType(key, "an object")
	}
	return obj, true, nil
}

// Floats returns a required non-empty array of numbers as float32.
func (p Params) Floats(key string) ([]float32, error) {
	arr, err := p.Array(key)
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, p.invalid("param %q must not be empty", key)
	}
	out := make([]float32, len(arr))
	for i, elem := range arr {
		f, ok := numeric(elem)
		if !ok {
			return nil, p.invalid("param %q[%d] must be a number, got %s", key, i, ir.TypeName(elem))
		}
		if math.Abs(f) > math.MaxFloat32 {
			return nil, p.invalid("param %q[%d] overflows float32", key, i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Bytes returns a required byte-string param, decoding base64 when the
// params object carries "encoding":"base64".
func (p Params) Bytes(key string) ([]byte, error) {
	s, err := p.String(key)
	if err != nil {
		return nil, err
	}
	enc, err := p.OptString(EncodingKey, "")
	if err != nil {
		return nil, err
	}
	switch enc {
	case "":
		return []byte(s), nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, p.invalid("param %q is not valid base64: %v", key, err)
		}
		return b, nil
	default:
		return nil, p.invalid("unsupported encoding %q", enc)
	}
}

func numeric(v ir.IRValue) (float64, bool) {
	switch n := v.(type) {
	case ir.IRInt:
		return float64(n), true
	case ir.IRFloat:
		return float64(n), true
	default:
		return 0, false
	}
}

// PutBytes stores byte fields in obj. Fields travel as plain strings only
// when every value is valid UTF-8 in NFC form; otherwise every field is
// base64 encoded and obj is marked with EncodingKey. Hosts that normalize
// the text they read therefore never see a byte value they could alter.
// Field order in fields does not matter.
func PutBytes(obj ir.IRObject, fields map[string][]byte) {
	plain := true
	for _, b := range fields {
		if !utf8.Valid(b) || !norm.NFC.IsNormal(b) {
			plain = false
			break
		}
	}
	for key, b := range fields {
		if plain {
			obj[key] = ir.IRString(b)
		} else {
			obj[key] = ir.IRString(base64.StdEncoding.EncodeToString(b))
		}
	}
	if !plain {
		obj[EncodingKey] = ir.IRString(EncodingBase64)
	}
}
