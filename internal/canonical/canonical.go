package canonical

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	dmerrors "dmsdk/internal/errors"
)

// MaxDepth bounds the nesting of objects and arrays.
const MaxDepth = 512

// Marshal returns the canonical encoding of v.
//
// Object keys are sorted byte-wise, no whitespace is emitted, strings are
// escaped the way encoding/json escapes them by default and each numeric
// value has a single textual form. Values with no canonical form (NaN, infinities,
// invalid UTF-8, cycles, functions, channels) produce an Encoding error.
func Marshal(v any) ([]byte, error) {
	e := &encoder{visiting: make(map[visitKey]struct{})}
	if err := e.encode(v, 0); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// FromJSON parses data and returns its canonical encoding.
func FromJSON(data []byte) ([]byte, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Marshal(v)
}

// String canonicalizes a JSON document held in a string.
func String(s string) (string, error) {
	out, err := FromJSON([]byte(s))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type visitKey struct {
	ptr uintptr
	len int
}

type encoder struct {
	buf      bytes.Buffer
	visiting map[visitKey]struct{}
}

func (e *encoder) encode(v any, depth int) error {
	if depth > MaxDepth {
		return dmerrors.Encoding("canonical", "nesting exceeds %d levels", MaxDepth)
	}

	switch t := v.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		if t {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
	case string:
		return e.encodeString(t)
	case json.Number:
		return e.encodeNumber(string(t))
	case int:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		e.buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		e.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		e.buf.WriteString(strconv.FormatUint(t, 10))
	case float32:
		return e.encodeFloat(float64(t), 32)
	case float64:
		return e.encodeFloat(t, 64)
	case map[string]any:
		return e.encodeObject(t, depth)
	case []any:
		return e.encodeArray(t, depth)
	case json.RawMessage:
		parsed, err := Parse(t)
		if err != nil {
			return err
		}
		return e.encode(parsed, depth)
	default:
		return e.encodeReflected(v, depth)
	}
	return nil
}

// encodeReflected runs values of any other type through encoding/json so
// structs canonicalize by their wire form.
func (e *encoder) encodeReflected(v any, depth int) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return dmerrors.Encoding("canonical", "unsupported value of type %T: %v", v, err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	return e.encode(parsed, depth)
}

func (e *encoder) encodeString(s string) error {
	if !utf8.ValidString(s) {
		return dmerrors.Encoding("canonical", "string is not valid UTF-8")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return dmerrors.Encoding("canonical", "string: %v", err)
	}
	e.buf.Write(raw)
	return nil
}

func (e *encoder) encodeFloat(f float64, bits int) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dmerrors.Encoding("canonical", "%v has no JSON representation", f)
	}
	var raw []byte
	var err error
	if bits == 32 {
		raw, err = json.Marshal(float32(f))
	} else {
		raw, err = json.Marshal(f)
	}
	if err != nil {
		return dmerrors.Encoding("canonical", "number: %v", err)
	}
	return e.encodeNumber(string(raw))
}

func (e *encoder) encodeNumber(s string) error {
	out, err := canonicalNumber(s)
	if err != nil {
		return err
	}
	e.buf.WriteString(out)
	return nil
}

// maxExponent bounds the exponent part of a number literal.
const maxExponent = 400

// canonicalNumber gives every numeric value one textual form. Integral
// values are written as exact decimal digits however they were spelled
// (1e23, 1.0, -0). Other values use the shortest float64 form of
// encoding/json, and a literal that form does not reproduce exactly is
// rejected.
func canonicalNumber(s string) (string, error) {
	if !isNumberLiteral(s) {
		return "", dmerrors.Encoding("canonical", "invalid number %q", s)
	}
	if exp, ok := exponentOf(s); !ok || exp > maxExponent || exp < -maxExponent {
		return "", dmerrors.Encoding("canonical", "number %q out of range", s)
	}

	var r big.Rat
	if _, ok := r.SetString(s); !ok {
		return "", dmerrors.Encoding("canonical", "invalid number %q", s)
	}
	if r.IsInt() {
		return r.Num().String(), nil
	}

	f, _ := r.Float64()
	if math.IsInf(f, 0) {
		return "", dmerrors.Encoding("canonical", "number %q out of range", s)
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return "", dmerrors.Encoding("canonical", "number %q: %v", s, err)
	}
	var back big.Rat
	if _, ok := back.SetString(string(raw)); !ok || back.Cmp(&r) != 0 {
		return "", dmerrors.Encoding("canonical", "number %q has no exact float64 form", s)
	}
	return string(raw), nil
}

// exponentOf returns the exponent part of a number literal, 0 when absent.
func exponentOf(s string) (int, bool) {
	i := strings.IndexAny(s, "eE")
	if i < 0 {
		return 0, true
	}
	exp, err := strconv.Atoi(strings.TrimPrefix(s[i+1:], "+"))
	return exp, err == nil
}

// isNumberLiteral reports whether s matches the JSON number grammar.
func isNumberLiteral(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := func() int {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		return i - start
	}
	if i < len(s) && s[i] == '0' {
		i++
	} else if digits() == 0 {
		return false
	}
	if i < len(s) && s[i] == '.' {
		i++
		if digits() == 0 {
			return false
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		if digits() == 0 {
			return false
		}
	}
	return i == len(s)
}

func (e *encoder) encodeObject(m map[string]any, depth int) error {
	if m == nil {
		e.buf.WriteString("null")
		return nil
	}
	key := visitKey{ptr: reflect.ValueOf(m).Pointer()}
	if _, seen := e.visiting[key]; seen {
		return dmerrors.Encoding("canonical", "cyclic object")
	}
	e.visiting[key] = struct{}{}
	defer delete(e.visiting, key)

	keys := make([]string, 0, len(m))
	for k := range m {
		if !utf8.ValidString(k) {
			return dmerrors.Encoding("canonical", "object key is not valid UTF-8")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encodeString(k); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.encode(m[k], depth+1); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) encodeArray(a []any, depth int) error {
	if a == nil {
		e.buf.WriteString("null")
		return nil
	}
	if len(a) > 0 {
		key := visitKey{ptr: reflect.ValueOf(a).Pointer(), len: len(a)}
		if _, seen := e.visiting[key]; seen {
			return dmerrors.Encoding("canonical", "cyclic array")
		}
		e.visiting[key] = struct{}{}
		defer delete(e.visiting, key)
	}

	e.buf.WriteByte('[')
	for i, item := range a {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(item, depth+1); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}
