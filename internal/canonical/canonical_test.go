package canonical

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmerrors "dmsdk/internal/errors"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "null", input: nil, want: `null`},
		{name: "booleans", input: []any{true, false}, want: `[true,false]`},
		{name: "sorted keys", input: map[string]any{"b": 1, "a": 2, "c": 3}, want: `{"a":2,"b":1,"c":3}`},
		{name: "byte order not locale order", input: map[string]any{"a": 1, "B": 2, "_": 3}, want: `{"B":2,"_":3,"a":1}`},
		{
			name:  "nested maps sorted",
			input: map[string]any{"z": map[string]any{"y": 1, "x": []any{map[string]any{"q": 1, "p": 2}}}},
			want:  `{"z":{"x":[{"p":2,"q":1}],"y":1}}`,
		},
		{name: "html escaped", input: "<a&b>", want: `"\u003ca\u0026b\u003e"`},
		{name: "control characters", input: "a\nb\t\"c\"", want: `"a\nb\t\"c\""`},
		{name: "line separator escaped", input: "x\u2028y", want: `"x\u2028y"`},
		{name: "integer kinds", input: []any{int8(-1), uint64(math.MaxUint64), int64(math.MinInt64)}, want: `[-1,18446744073709551615,-9223372036854775808]`},
		{name: "float integral", input: 2.0, want: `2`},
		{name: "float fraction", input: 0.1, want: `0.1`},
		{name: "float integral beyond int64", input: 1e21, want: `1000000000000000000000`},
		{name: "float small exponent", input: 1e-7, want: `1e-7`},
		{name: "float32 fraction", input: float32(0.1), want: `0.1`},
		{name: "negative zero", input: math.Copysign(0, -1), want: `0`},
		{name: "json number integer exact", input: json.Number("123456789012345678901234567890"), want: `123456789012345678901234567890`},
		{name: "json number fraction", input: json.Number("1.50"), want: `1.5`},
		{name: "json number exponent", input: json.Number("1E2"), want: `100`},
		{name: "json number integral fraction", input: json.Number("12345678901234567891.0"), want: `12345678901234567891`},
		{name: "json number negative zero", input: json.Number("-0.0"), want: `0`},
		{name: "empty object", input: map[string]any{}, want: `{}`},
		{name: "empty array", input: []any{}, want: `[]`},
		{name: "raw message", input: json.RawMessage(`{"b": 1, "a": 0}`), want: `{"a":0,"b":1}`},
		{
			name: "struct by wire form",
			input: struct {
				Valid bool   `json:"valid"`
				Nonce string `json:"nonce_str"`
			}{Valid: true, Nonce: "ab"},
			want: `{"nonce_str":"ab","valid":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_Rejects(t *testing.T) {
	cyclicMap := map[string]any{}
	cyclicMap["self"] = cyclicMap

	cyclicSlice := make([]any, 1)
	cyclicSlice[0] = cyclicSlice

	deep := any("leaf")
	for i := 0; i < MaxDepth+10; i++ {
		deep = []any{deep}
	}

	tests := []struct {
		name  string
		input any
	}{
		{name: "NaN", input: math.NaN()},
		{name: "positive infinity", input: math.Inf(1)},
		{name: "negative infinity in map", input: map[string]any{"x": math.Inf(-1)}},
		{name: "invalid utf8 string", input: "\xff"},
		{name: "invalid utf8 key", input: map[string]any{"\xfe": 1}},
		{name: "cyclic map", input: cyclicMap},
		{name: "cyclic slice", input: cyclicSlice},
		{name: "too deep", input: deep},
		{name: "channel", input: make(chan int)},
		{name: "function", input: func() {}},
		{name: "bad json number", input: json.Number("1.2.3")},
		{name: "json number leading zero", input: json.Number("01")},
		{name: "json number overflow", input: json.Number("1e999")},
		{name: "json number beyond float64 precision", input: json.Number("0.12345678901234567891")},
		{name: "json number rounds to another float", input: json.Number("0.10000000000000001")},
		{name: "json number underflow", input: json.Number("1e-350")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Marshal(tt.input)
			require.Error(t, err)
			assert.True(t, dmerrors.IsKind(err, dmerrors.KindEncoding), "got %v", err)
		})
	}
}

func TestMarshal_SharedSubtreeIsNotACycle(t *testing.T) {
	shared := map[string]any{"k": 1}
	got, err := Marshal(map[string]any{"a": shared, "b": shared})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"k":1},"b":{"k":1}}`, string(got))
}

func TestMarshal_OrderIndependent(t *testing.T) {
	first, err := String(`{"valid":true,"nonce_str":"aa","meta":{"z":1,"a":[1,2]}}`)
	require.NoError(t, err)
	second, err := String(`{"meta":{"a":[1,2],"z":1},"nonce_str":"aa","valid":true}`)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFromJSON_RoundTrip(t *testing.T) {
	inputs := []string{
		`{"b":[1,2.5,{"d":null,"c":"x"}],"a":true}`,
		`[{"k":"é"},-3,1e-7]`,
		`"plain"`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			out, err := FromJSON([]byte(in))
			require.NoError(t, err)

			var want, got any
			require.NoError(t, json.Unmarshal([]byte(in), &want))
			require.NoError(t, json.Unmarshal(out, &got))
			assert.Equal(t, want, got)

			again, err := FromJSON(out)
			require.NoError(t, err)
			assert.Equal(t, string(out), string(again), "canonical form must be a fixed point")
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ``},
		{name: "truncated", input: `{"a":`},
		{name: "trailing data", input: `{} {}`},
		{name: "trailing garbage", input: `[1] x`},
		{name: "duplicate key", input: `{"a":1,"a":2}`},
		{name: "invalid utf8", input: "\"\xff\""},
		{name: "bare word", input: `nope`},
		{name: "too deep", input: strings.Repeat("[", MaxDepth+5) + strings.Repeat("]", MaxDepth+5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Equal(t, dmerrors.KindEncoding, dmerrors.KindOf(err))
		})
	}
}

func TestString_OneFormPerNumber(t *testing.T) {
	tests := []struct {
		name      string
		spellings []string
		want      string
	}{
		{name: "large integer", spellings: []string{"100000000000000000000000", "1e23", "1E+23", "10e22", "100000000000000000000000.000"}, want: "100000000000000000000000"},
		{name: "zero", spellings: []string{"0", "-0", "0.0", "0e10", "-0E-3"}, want: "0"},
		{name: "fraction", spellings: []string{"0.5", "5e-1", "0.50", "50E-2"}, want: "0.5"},
		{name: "negative integer", spellings: []string{"-15", "-1.5e1", "-150e-1"}, want: "-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, spelling := range tt.spellings {
				got, err := String("[" + spelling + "]")
				require.NoError(t, err, spelling)
				assert.Equal(t, "["+tt.want+"]", got, spelling)
			}
		})
	}
}

func TestMarshal_FloatAgreesWithJSONText(t *testing.T) {
	for _, f := range []float64{1e23, 0.1, 1.0 / 3, -2.5e-8, 123456.789, 1 << 60} {
		raw, err := json.Marshal(f)
		require.NoError(t, err)

		fromValue, err := Marshal(f)
		require.NoError(t, err)
		fromText, err := FromJSON(raw)
		require.NoError(t, err)
		assert.Equal(t, string(fromText), string(fromValue), "%v", f)
	}
}

func TestParse_Surrogates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "pair", input: `"\ud83d\ude00"`, want: "\U0001F600", ok: true},
		{name: "escaped backslash before u", input: `"\\ud800"`, want: `\ud800`, ok: true},
		{name: "replacement character itself", input: `"\ufffd"`, want: "\uFFFD", ok: true},
		{name: "lone high", input: `"\ud800"`},
		{name: "lone low", input: `"\udc00"`},
		{name: "high then text", input: `"\ud800x"`},
		{name: "high then non-low escape", input: `"\ud800\u0041"`},
		{name: "two highs", input: `"\ud800\ud800"`},
		{name: "in key", input: `{"\udfff":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse([]byte(tt.input))
			if !tt.ok {
				require.Error(t, err)
				assert.Equal(t, dmerrors.KindEncoding, dmerrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParse_PreservesNumbers(t *testing.T) {
	v, err := Parse([]byte(`{"n":12345678901234567890}`))
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("12345678901234567890"), obj["n"])
}

func TestString_Whitespace(t *testing.T) {
	got, err := String(" {\n  \"b\" : [ 1 , 2 ] ,\n  \"a\" : { }\n} ")
	require.NoError(t, err)
	assert.Equal(t, `{"a":{},"b":[1,2]}`, got)
}
