package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

const float32Size = 4

// Encode serializes v as little-endian float32 values. A nil vector encodes to nil.
func Encode(v Vector) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v)*float32Size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*float32Size:], math.Float32bits(f))
	}
	return out
}

// Decode parses bytes written by Encode. An empty input decodes to a nil vector.
func Decode(b []byte) (Vector, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%float32Size != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	out := make(Vector, len(b)/float32Size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*float32Size:]))
	}
	return out, nil
}
