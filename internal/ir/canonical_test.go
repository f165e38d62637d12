package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"max int64", IRInt(math.MaxInt64), "9223372036854775807"},
		{"min int64", IRInt(math.MinInt64), "-9223372036854775808"},
		{"bool", IRBool(false), "false"},
		{"null", IRNull{}, "null"},
		{"nil", nil, "null"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"null member", IRObject{"value": IRNull{}}, `{"value":null}`},
		{"go string", "x", `"x"`},
		{"go int", 7, "7"},
		{"go map", map[string]any{"b": int64(1), "a": true}, `{"a":true,"b":1}`},
		{"go slice", []any{"a", int64(2)}, `["a",2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalEnvelopeShape(t *testing.T) {
	env := IRObject{
		"ok": IRBool(true),
		"data": IRObject{
			"rows":    IRArray{IRObject{"name": IRString("a"), "id": IRInt(1)}},
			"columns": Strings([]string{"id", "name"}),
		},
	}
	result, err := MarshalCanonical(env)
	require.NoError(t, err)
	assert.Equal(t, `{"data":{"columns":["id","name"],"rows":[{"id":1,"name":"a"}]},"ok":true}`, string(result))

	// Same value, same bytes.
	again, err := MarshalCanonical(env.Clone())
	require.NoError(t, err)
	assert.Equal(t, result, again)
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+FFFF sorts after U+10000 in UTF-16 code units (0xD800 < 0xFFFF)
	// although it sorts before it in UTF-8 bytes.
	obj := IRObject{
		"\uFFFF":     IRInt(1),
		"\U00010000": IRInt(2),
		"a":          IRInt(3),
	}
	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":3,\"\U00010000\":2,\"\uFFFF\":1}", string(result))
}

func TestMarshalCanonicalFloats(t *testing.T) {
	tests := []struct {
		name     string
		input    IRValue
		expected string
	}{
		{"fraction", IRFloat(0.5), "0.5"},
		{"integral float", IRFloat(1), "1"},
		{"negative", IRFloat(-2.25), "-2.25"},
		{"zero", IRFloat(0), "0"},
		{"negative zero", IRFloat(math.Copysign(0, -1)), "0"},
		{"large plain", IRFloat(1e20), "100000000000000000000"},
		{"large exponent", IRFloat(1e21), "1e+21"},
		{"small plain", IRFloat(0.000001), "0.000001"},
		{"small exponent", IRFloat(1e-7), "1e-7"},
		{"float32 score", IRFloat(float32(0.1)), "0.10000000149011612"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"NaN", IRFloat(math.NaN()), "non-finite"},
		{"+Inf", IRFloat(math.Inf(1)), "non-finite"},
		{"-Inf nested", IRObject{"v": IRArray{IRFloat(math.Inf(-1))}}, "non-finite"},
		{"float32", float32(1), "unsupported type"},
		{"struct", struct{}{}, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMarshalCanonicalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html left as is", `<a href="x">&</a>`, `"<a href=\"x\">&</a>"`},
		{"sql text", "SELECT * FROM t WHERE a < 1 && b > 2", `"SELECT * FROM t WHERE a < 1 && b > 2"`},
		{"control chars", "a\nb\tc\x01", `"a\nb\tc\u0001"`},
		{"backslash", `c:\tmp`, `"c:\\tmp"`},
		{"line separator literal", "a\u2028b\u2029c", "\"a\u2028b\u2029c\""},
		{"escaped backslash before u2028 text", `\u2028`, `"\\u2028"`},
		{"NFD kept", "cafe\u0301", "\"cafe\u0301\""},
		{"NFC kept", "caf\u00e9", "\"caf\u00e9\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalKeysNotNormalized(t *testing.T) {
	result, err := MarshalCanonical(IRObject{"caf\u00e9": IRInt(1), "cafe\u0301": IRInt(2)})
	require.NoError(t, err)
	assert.Equal(t, "{\"cafe\u0301\":2,\"caf\u00e9\":1}", string(result))
}

func TestMarshalCanonicalCompact(t *testing.T) {
	result, err := MarshalCanonical(IRObject{
		"hits": IRArray{IRObject{"id": IRInt(1), "score": IRFloat(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"hits":[{"id":1,"score":1}]}`, string(result))
	assert.NotContains(t, string(result), " ")
	assert.NotContains(t, string(result), "\n")
}
