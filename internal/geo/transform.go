package geo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/clanmap/clanmap/pkg/core"
)

// TransformSize is the length of a serialized FTransform in game.db
const TransformSize = 40

// ErrMalformedRecord is returned when a transform blob has the wrong length
var ErrMalformedRecord = errors.New("malformed transform record")

// DecodeTransform parses the transform1/transform2 blobs of building_instances.
// Layout is little-endian float32: rotation w,x,y,z then translation x,y,z then scale x,y,z.
// Values are not validated, NaN and Inf pass through.
func DecodeTransform(data []byte) (core.Transform, error) {
	if len(data) != TransformSize {
		return core.Transform{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedRecord, len(data), TransformSize)
	}
	return core.Transform{
		Rotation: core.Quaternion{
			W: float32At(data, 0),
			X: float32At(data, 4),
			Y: float32At(data, 8),
			Z: float32At(data, 12),
		},
		Translation: core.Vector{
			X: float32At(data, 16),
			Y: float32At(data, 20),
			Z: float32At(data, 24),
		},
		Scale: core.Vector{
			X: float32At(data, 28),
			Y: float32At(data, 32),
			Z: float32At(data, 36),
		},
	}, nil
}

// EncodeTransform writes t in the same layout DecodeTransform reads.
func EncodeTransform(t core.Transform) []byte {
	data := make([]byte, TransformSize)
	for i, v := range []float32{
		t.Rotation.W, t.Rotation.X, t.Rotation.Y, t.Rotation.Z,
		t.Translation.X, t.Translation.Y, t.Translation.Z,
		t.Scale.X, t.Scale.Y, t.Scale.Z,
	} {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}

func float32At(data []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[offset : offset+4]))
}
