// Package tensor provides the storage and shape layer for the Quill kernels.
package tensor

import "math"

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types.
//
// Float16 is a storage-only type: kernels promote it to float32 before any
// arithmetic (the compute-precision policy) and cast back at the boundary.
// Uint8 carries packed quantized payloads and is never used for arithmetic.
const (
	Float32 DataType = iota
	Float16
	Uint8
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float16:
		return 2
	case Uint8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// Float16ToFloat32 decodes an IEEE 754 binary16 value.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	var bits uint32
	switch {
	case exp == 0 && mant == 0:
		bits = sign << 31
	case exp == 0:
		// Subnormal: renormalize the mantissa.
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
		bits = sign<<31 | (exp+112)<<23 | mant<<13
	case exp == 0x1f:
		// Inf / NaN
		bits = sign<<31 | 0xff<<23 | mant<<13
	default:
		bits = sign<<31 | (exp+112)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}

// Float32ToFloat16 encodes a float32 as IEEE 754 binary16, rounding to
// nearest-even. Values outside the binary16 range become +/-Inf.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp >= 0x1f:
		if bits&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00 // NaN
		}
		return sign | 0x7c00 // Inf / overflow
	case exp <= 0:
		if exp < -10 {
			return sign // underflows to zero
		}
		// Subnormal result.
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint32(1)<<(shift-1) - 1
		rounded := (mant + half + (mant>>shift)&1) >> shift
		return sign | uint16(rounded)
	default:
		rounded := mant + 0xfff + (mant>>13)&1
		if rounded&0x800000 != 0 {
			rounded = 0
			exp++
			if exp >= 0x1f {
				return sign | 0x7c00
			}
		}
		return sign | uint16(exp)<<10 | uint16(rounded>>13)
	}
}
