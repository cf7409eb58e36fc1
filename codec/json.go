package codec

import (
	"bytes"
	"encoding/json"
)

// JSON is the encoding/json codec.
//
// Unmarshal rejects unknown fields so that a misspelled configuration key or
// a record written by a newer format fails loudly instead of being dropped.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Default is the codec used for newly written metadata.
var Default Codec = JSON{}
