package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/polysim/polysim/schema"
)

// jsonNumber keeps integer precision through the generic decode: plain
// float64 round-trips lose int64 values above 2^53.
type jsonNumber json.Number

func (n jsonNumber) asInt64() (int64, bool) {
	v, err := json.Number(n).Int64()
	return v, err == nil
}

func (n jsonNumber) asFloat64() (float64, bool) {
	v, err := json.Number(n).Float64()
	return v, err == nil
}

// DecodeJSON parses a JSON update payload. Attributes registered in reg
// decode to their declared primitive and unit shape; nil reg is allowed and
// types everything by wire representation.
func DecodeJSON(data []byte, reg *schema.Registry) (*Update, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return decodeUpdate(wrapNumbers(raw).(map[string]any), reg)
}

// EncodeJSON renders an update as a JSON payload.
func EncodeJSON(u *Update) ([]byte, error) {
	data, err := json.Marshal(encodeUpdate(u))
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return data, nil
}

// wrapNumbers rewrites json.Number leaves into the codec's own numeric
// wrapper so the conversion core stays codec-agnostic.
func wrapNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = wrapNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = wrapNumbers(e)
		}
		return t
	case json.Number:
		return jsonNumber(t)
	default:
		return v
	}
}
