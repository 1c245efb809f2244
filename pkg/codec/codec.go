// Package codec provides the default JSON codec for satchel managers,
// backed by goccy/go-json. The manager core depends only on types.Codec;
// applications that never declare json fields can skip this package.
package codec

import (
	gojson "github.com/goccy/go-json"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v *any) error { return gojson.Unmarshal(data, v) }

// JSON returns the default goccy-backed codec.
func JSON() types.Codec { return jsonCodec{} }
