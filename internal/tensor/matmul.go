package tensor

// MatMul performs 2D float32 matrix multiplication: (M, K) @ (K, N) -> (M, N).
//
// Both operands must already be in the compute precision (Float32); callers
// promote Float16 storage via Float32Data/Cast before multiplying. The inner
// loop is a plain triple loop; the kernels parallelize at the row
// level above this call.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.DType() != Float32 || b.DType() != Float32 {
		return nil, shapeErrorf("matmul", "requires float32 operands, got %s @ %s", a.DType(), b.DType())
	}
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		return nil, shapeErrorf("matmul", "only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape))
	}
	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		return nil, shapeErrorf("matmul", "shape mismatch %v @ %v", aShape, bShape)
	}

	result := Zeros(Shape{m, n}, Float32)
	c, av, bv := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()
	for i := 0; i < m; i++ {
		arow := av[i*k : (i+1)*k]
		crow := c[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			aik := arow[kk]
			brow := bv[kk*n : (kk+1)*n]
			for j := range crow {
				crow[j] += aik * brow[j]
			}
		}
	}
	return result, nil
}

// Transpose2D returns a transposed copy of a 2D float32 tensor.
func Transpose2D(t *Tensor) (*Tensor, error) {
	if t.DType() != Float32 {
		return nil, shapeErrorf("transpose", "requires float32, got %s", t.DType())
	}
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, shapeErrorf("transpose", "only 2D tensors supported, got %dD", len(shape))
	}
	rows, cols := shape[0], shape[1]
	out := Zeros(Shape{cols, rows}, Float32)
	src, dst := t.AsFloat32(), out.AsFloat32()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return out, nil
}

// FlattenRows views a tensor of shape (..., lastDim) as (M, lastDim) where
// M is the product of the leading dimensions. Scalars and vectors are
// rejected; the kernels require at least one leading dimension.
func FlattenRows(t *Tensor) (*Tensor, error) {
	shape := t.Shape()
	if len(shape) < 2 {
		return nil, shapeErrorf("flatten_rows", "need at least 2 dimensions, got %v", shape)
	}
	lastDim := shape[len(shape)-1]
	return t.Reshape(Shape{t.NumElements() / lastDim, lastDim})
}
