// Package encoding provides the binary vector codecs shared by the storage
// layer and the on-disk vector index.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when vector bytes cannot be decoded.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector converts a float32 slice to little-endian bytes, prefixed
// with the element count as an int32.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > math.MaxInt32 {
		return nil, fmt.Errorf("vector too large: %d elements", len(vector))
	}

	buf := make([]byte, 4+len(vector)*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeVector converts length-prefixed little-endian bytes back to a
// float32 slice.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	length := binary.LittleEndian.Uint32(data[0:4])
	if length > math.MaxInt32 {
		return nil, ErrInvalidVector
	}
	if length == 0 {
		return []float32{}, nil
	}
	if len(data)-4 < int(length)*4 {
		return nil, ErrInvalidVector
	}

	vector := make([]float32, length)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+i*4:]))
	}
	return vector, nil
}

// ValidateVector rejects nil, empty, NaN, and infinite vectors.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, v := range vector {
		if v != v {
			return ErrInvalidVector
		}
		if math.IsInf(float64(v), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
