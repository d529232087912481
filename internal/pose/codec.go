package pose

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WireSize is the encoded size of one pose: 16 little-endian float32 values.
const WireSize = 16 * 4

// ErrInvalidPayload is returned by Deserialize for buffers that are not
// exactly WireSize bytes long.
var ErrInvalidPayload = errors.New("invalid pose payload")

// Serialize flattens p in row-major order.
func Serialize(p Pose) [16]float32 {
	return [16]float32(p)
}

// Encode writes the row-major values of p into a WireSize byte array.
func Encode(p Pose) [WireSize]byte {
	var buf [WireSize]byte
	for i, v := range p {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// AppendEncoded appends the wire encoding of p to dst.
func AppendEncoded(dst []byte, p Pose) []byte {
	enc := Encode(p)
	return append(dst, enc[:]...)
}

// Deserialize decodes a WireSize byte buffer produced by Encode. The round
// trip is bit-exact.
func Deserialize(b []byte) (Pose, error) {
	if len(b) != WireSize {
		return Pose{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPayload, len(b), WireSize)
	}
	var p Pose
	for i := range p {
		p[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return p, nil
}
