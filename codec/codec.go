// Package codec centralizes the encoding of persisted metadata.
//
// Catalog log records, catalog snapshots and configuration files are encoded
// with a Codec. Snapshots record the codec name in their header so a loader
// can refuse bytes written by a codec it does not know.
package codec

// Codec encodes and decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	default:
		return nil, false
	}
}
