package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	dmerrors "dmsdk/internal/errors"
)

// Parse decodes a single JSON document into the value tree Marshal accepts.
// Numbers are kept as json.Number. Invalid UTF-8, unpaired surrogate
// escapes, duplicate object keys, nesting deeper than MaxDepth and trailing
// data are rejected.
func Parse(data []byte) (any, error) {
	if !utf8.Valid(data) {
		return nil, dmerrors.Encoding("canonical.parse", "input is not valid UTF-8")
	}
	if err := checkSurrogates(data); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, dmerrors.Encoding("canonical.parse", "unexpected data after top-level value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, dmerrors.Encoding("canonical.parse", "nesting exceeds %d levels", MaxDepth)
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, syntaxError(err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := make(map[string]any)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, syntaxError(err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, dmerrors.Encoding("canonical.parse", "object key is not a string")
			}
			if _, dup := obj[key]; dup {
				return nil, dmerrors.Encoding("canonical.parse", "duplicate object key %q", key)
			}
			val, err := parseValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, syntaxError(err)
		}
		return obj, nil
	case '[':
		arr := make([]any, 0)
		for dec.More() {
			val, err := parseValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, syntaxError(err)
		}
		return arr, nil
	default:
		return nil, dmerrors.Encoding("canonical.parse", "unexpected delimiter %q", delim)
	}
}

func syntaxError(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &dmerrors.Error{
		Kind:    dmerrors.KindEncoding,
		Op:      "canonical.parse",
		Message: "malformed JSON",
		Cause:   err,
	}
}

// checkSurrogates rejects \u escapes that encode half of a surrogate pair.
// encoding/json would silently decode them as U+FFFD. Other malformed
// escapes are left to the decoder.
func checkSurrogates(data []byte) error {
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if !inString {
			inString = c == '"'
			continue
		}
		switch c {
		case '"':
			inString = false
		case '\\':
			if i+1 >= len(data) || data[i+1] != 'u' {
				i++
				continue
			}
			r, ok := hexRune(data, i+2)
			if !ok {
				return nil
			}
			i += 5
			if !utf16.IsSurrogate(r) {
				continue
			}
			if r >= 0xDC00 {
				return unpairedSurrogate(r)
			}
			if i+2 >= len(data) || data[i+1] != '\\' || data[i+2] != 'u' {
				return unpairedSurrogate(r)
			}
			low, ok := hexRune(data, i+3)
			if !ok || low < 0xDC00 || low > 0xDFFF {
				return unpairedSurrogate(r)
			}
			i += 6
		}
	}
	return nil
}

func hexRune(data []byte, at int) (rune, bool) {
	if at+4 > len(data) {
		return 0, false
	}
	v, err := strconv.ParseUint(string(data[at:at+4]), 16, 16)
	return rune(v), err == nil
}

func unpairedSurrogate(r rune) error {
	return dmerrors.Encoding("canonical.parse", "unpaired surrogate escape \\u%04x", r)
}
