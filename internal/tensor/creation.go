package tensor

import "math/rand"

// Zeros creates a zero-filled tensor. Panics on an invalid shape; creation
// helpers are for code that controls its shapes (tests, initializers).
func Zeros(shape Shape, dtype DataType) *Tensor {
	t, err := New(shape, dtype)
	if err != nil {
		panic(err)
	}
	return t
}

// Full creates a Float32 tensor filled with the given value.
func Full(shape Shape, value float32) *Tensor {
	t := Zeros(shape, Float32)
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t
}

// FromFloat32 creates a Float32 tensor from a slice. The slice is copied.
func FromFloat32(data []float32, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, shapeErrorf("from_slice", "shape %v requires %d elements, got %d",
			shape, shape.NumElements(), len(data))
	}
	t, err := New(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// Randn creates a Float32 tensor with values drawn from N(0, 1) using the
// provided source. A fixed source keeps kernel tests reproducible.
func Randn(shape Shape, rng *rand.Rand) *Tensor {
	t := Zeros(shape, Float32)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return t
}
