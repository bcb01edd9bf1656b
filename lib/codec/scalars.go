package codec

/* This file converts arrays of scalars to and from little-endian bytes. */

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Scalar is the set of value types which fields can hold and which can be
// sent between ranks.
type Scalar interface {
	int | int32 | int64 | uint32 | uint64 | float32 | float64
}

// ScalarSize returns the number of bytes a single T occupies on the wire.
func ScalarSize[T Scalar]() int {
	var zero T
	switch any(zero).(type) {
	case int32, uint32, float32:
		return 4
	default:
		return 8
	}
}

// TypeName returns the short name used for T in logs and files ("i32",
// "f64", etc.).
func TypeName[T Scalar]() string {
	var zero T
	switch any(zero).(type) {
	case int:
		return "int"
	case int32:
		return "i32"
	case int64:
		return "i64"
	case uint32:
		return "u32"
	case uint64:
		return "u64"
	case float32:
		return "f32"
	case float64:
		return "f64"
	}
	panic("'Impossible' type configuration.")
}

// EncodeScalars writes x to a newly allocated byte slice.
func EncodeScalars[T Scalar](x []T) []byte {
	le := binary.LittleEndian
	b := make([]byte, 0, len(x)*ScalarSize[T]())

	switch xx := any(x).(type) {
	case []int:
		for _, v := range xx {
			b = le.AppendUint64(b, uint64(int64(v)))
		}
	case []int32:
		for _, v := range xx {
			b = le.AppendUint32(b, uint32(v))
		}
	case []int64:
		for _, v := range xx {
			b = le.AppendUint64(b, uint64(v))
		}
	case []uint32:
		for _, v := range xx {
			b = le.AppendUint32(b, v)
		}
	case []uint64:
		for _, v := range xx {
			b = le.AppendUint64(b, v)
		}
	case []float32:
		for _, v := range xx {
			b = le.AppendUint32(b, math.Float32bits(v))
		}
	case []float64:
		for _, v := range xx {
			b = le.AppendUint64(b, math.Float64bits(v))
		}
	default:
		panic("'Impossible' type configuration.")
	}
	return b
}

// DecodeScalars reverses EncodeScalars. It returns an error if b does not hold
// a whole number of T values.
func DecodeScalars[T Scalar](b []byte) ([]T, error) {
	size := ScalarSize[T]()
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %d-byte %s values.", len(b), size, TypeName[T]())
	}
	n := len(b) / size
	out := make([]T, n)
	le := binary.LittleEndian

	switch xx := any(out).(type) {
	case []int:
		for i := range xx {
			xx[i] = int(int64(le.Uint64(b[8*i:])))
		}
	case []int32:
		for i := range xx {
			xx[i] = int32(le.Uint32(b[4*i:]))
		}
	case []int64:
		for i := range xx {
			xx[i] = int64(le.Uint64(b[8*i:]))
		}
	case []uint32:
		for i := range xx {
			xx[i] = le.Uint32(b[4*i:])
		}
	case []uint64:
		for i := range xx {
			xx[i] = le.Uint64(b[8*i:])
		}
	case []float32:
		for i := range xx {
			xx[i] = math.Float32frombits(le.Uint32(b[4*i:]))
		}
	case []float64:
		for i := range xx {
			xx[i] = math.Float64frombits(le.Uint64(b[8*i:]))
		}
	default:
		panic("'Impossible' type configuration.")
	}
	return out, nil
}
