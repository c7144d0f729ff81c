package tensor

import (
	"fmt"
	"unsafe"
)

// Tensor is the in-memory tensor representation: a contiguous row-major
// byte buffer plus shape, strides, and runtime type information.
//
// Tensors are plain values with no gradient tracking; the layers in
// internal/nn own whatever per-call state the backward pass needs.
type Tensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
}

// New creates a zero-initialized tensor with the given shape and type.
func New(shape Shape, dtype DataType) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &Tensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Strides returns the tensor's memory strides.
func (t *Tensor) Strides() []int {
	return t.stride
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (t *Tensor) ByteSize() int {
	return len(t.data)
}

// Data returns the raw byte slice.
func (t *Tensor) Data() []byte {
	return t.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, length bounded by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsFloat16Bits interprets the data as []uint16 of binary16 payloads.
// Panics if the tensor's dtype is not Float16.
func (t *Tensor) AsFloat16Bits() []uint16 {
	if t.dtype != Float16 {
		panic(fmt.Sprintf("tensor dtype is %s, not float16", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, length bounded by NumElements()
	return unsafe.Slice((*uint16)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (t *Tensor) AsUint8() []uint8 {
	if t.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", t.dtype))
	}
	return t.data
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]byte, len(t.data))
	copy(data, t.data)
	return &Tensor{
		data:   data,
		shape:  t.shape.Clone(),
		stride: append([]int(nil), t.stride...),
		dtype:  t.dtype,
	}
}

// Reshape returns a view of the tensor with a new shape. The element count
// must match exactly; the underlying buffer is shared.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != t.NumElements() {
		return nil, shapeErrorf("reshape", "cannot reshape %v (%d elements) to %v (%d elements)",
			t.shape, t.NumElements(), shape, shape.NumElements())
	}
	return &Tensor{
		data:   t.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  t.dtype,
	}, nil
}

// Float32Data returns the tensor's values as a []float32, promoting Float16
// storage on the fly. For Float32 tensors the returned slice aliases the
// tensor buffer; for Float16 it is a fresh promoted copy.
func (t *Tensor) Float32Data() ([]float32, error) {
	switch t.dtype {
	case Float32:
		return t.AsFloat32(), nil
	case Float16:
		bits := t.AsFloat16Bits()
		out := make([]float32, len(bits))
		for i, h := range bits {
			out[i] = Float16ToFloat32(h)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor: cannot promote %s to float32", t.dtype)
	}
}

// Cast converts the tensor to the given float data type, copying and
// converting the payload. Uint8 tensors cannot be cast.
func (t *Tensor) Cast(dtype DataType) (*Tensor, error) {
	if t.dtype == dtype {
		return t.Clone(), nil
	}
	src, err := t.Float32Data()
	if err != nil {
		return nil, err
	}
	out, err := New(t.shape, dtype)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case Float32:
		copy(out.AsFloat32(), src)
	case Float16:
		bits := out.AsFloat16Bits()
		for i, v := range src {
			bits[i] = Float32ToFloat16(v)
		}
	default:
		return nil, fmt.Errorf("tensor: cannot cast %s to %s", t.dtype, dtype)
	}
	return out, nil
}

// String returns a human-readable representation of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[%s]%v", t.dtype, t.shape)
}
