package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedJSON indicates a JSON field (native or string-encoded) could not be decoded.
var ErrMalformedJSON = errors.New("malformed json value")

// JSONOrString holds a JSON value that may arrive natively or as a JSON-encoded string,
// which is how arrays travel inside multipart form fields.
type JSONOrString []byte

// UnmarshalJSON keeps the raw bytes; decoding happens in Decode.
func (j *JSONOrString) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}

// MarshalJSON emits the raw value, or null when empty.
func (j JSONOrString) MarshalJSON() ([]byte, error) {
	if len(bytes.TrimSpace(j)) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// Decode unwraps a string-encoded value when needed and unmarshals the result into target.
// Empty, null and blank-string values leave target untouched.
func (j JSONOrString) Decode(target interface{}) error {
	raw := bytes.TrimSpace(j)
	if len(raw) == 0 {
		return nil
	}
	if !gjson.ValidBytes(raw) {
		return ErrMalformedJSON
	}

	value := gjson.ParseBytes(raw)
	switch value.Type {
	case gjson.Null:
		return nil
	case gjson.String:
		inner := strings.TrimSpace(value.Str)
		if inner == "" {
			return nil
		}
		if !gjson.Valid(inner) {
			return ErrMalformedJSON
		}
		raw = []byte(inner)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Join(ErrMalformedJSON, err)
	}
	return nil
}

// FlexString accepts either a JSON string or a bare JSON literal (number, bool) and keeps its text.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*f = FlexString(strings.TrimSpace(text))
		return nil
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		trimmed = ""
	}
	*f = FlexString(trimmed)
	return nil
}

// String returns the trimmed text.
func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}
