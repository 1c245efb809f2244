package types

// Codec encodes and decodes JSON field values. The manager treats the
// codec as optional: without one, the json kind is not registered and
// JSON-path query expressions fail to compile.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v *any) error
}
