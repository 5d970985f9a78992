package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/polysim/polysim/schema"
)

// DecodeMsgpack parses a MessagePack update payload. The structural rules
// match DecodeJSON; only the outer serialization differs.
func DecodeMsgpack(data []byte, reg *schema.Registry) (*Update, error) {
	var raw map[string]any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return decodeUpdate(raw, reg)
}

// EncodeMsgpack renders an update as a MessagePack payload.
func EncodeMsgpack(u *Update) ([]byte, error) {
	data, err := msgpack.Marshal(encodeUpdate(u))
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return data, nil
}
