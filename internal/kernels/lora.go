package kernels

import (
	"fmt"

	"github.com/quill-ml/quill/internal/quant"
	"github.com/quill-ml/quill/internal/tensor"
)

// LoRAForward computes the fused quantized-base + low-rank-adapter affine
// transform:
//
//	main   = x @ dequant(w)^T + bias
//	loraA  = x @ a
//	out    = main + loraA @ b
//
// for an input x of shape (..., in_features). The packed base weight is
// reconstructed on every call (quantized storage, full-precision compute)
// and never mutated. The returned main and loraA activations are the
// per-invocation cache the matching LoRABackward consumes; they are valid
// for exactly one backward call and must not be treated as global state.
//
// Output shapes: out and main are (..., out_features), loraA is (..., rank),
// all in the compute precision.
func LoRAForward(w *quant.Weight, a, b, bias, x *tensor.Tensor, pol Policy) (out, main, loraA *tensor.Tensor, err error) {
	if err := pol.validate(); err != nil {
		return nil, nil, nil, err
	}
	wT, rank, err := checkAdapters(w, a, b, bias)
	if err != nil {
		return nil, nil, nil, err
	}

	x2d, err := promote2D(x, "lora_forward input", w.InFeatures)
	if err != nil {
		return nil, nil, nil, err
	}

	main2d, err := tensor.MatMul(x2d, wT)
	if err != nil {
		return nil, nil, nil, err
	}
	if bias != nil {
		biasData, err := bias.Float32Data()
		if err != nil {
			return nil, nil, nil, err
		}
		addRows(main2d.AsFloat32(), biasData)
	}

	a32, err := promoteMatrix(a)
	if err != nil {
		return nil, nil, nil, err
	}
	b32, err := promoteMatrix(b)
	if err != nil {
		return nil, nil, nil, err
	}

	loraA2d, err := tensor.MatMul(x2d, a32)
	if err != nil {
		return nil, nil, nil, err
	}
	lora2d, err := tensor.MatMul(loraA2d, b32)
	if err != nil {
		return nil, nil, nil, err
	}

	out2d := main2d.Clone()
	addSlices(out2d.AsFloat32(), lora2d.AsFloat32())

	if out, err = out2d.Reshape(replaceTrailing(x.Shape(), w.OutFeatures)); err != nil {
		return nil, nil, nil, err
	}
	if main, err = main2d.Reshape(replaceTrailing(x.Shape(), w.OutFeatures)); err != nil {
		return nil, nil, nil, err
	}
	if loraA, err = loraA2d.Reshape(replaceTrailing(x.Shape(), rank)); err != nil {
		return nil, nil, nil, err
	}
	return out, main, loraA, nil
}

// LoRABackward computes the adapter and input gradients for LoRAForward:
//
//	gradMedium = gradY @ b^T
//	gradA      = x^T @ gradMedium
//	gradB      = loraA^T @ gradY
//	gradX      = gradY @ dequant(w) + gradMedium @ a^T
//
// x and loraA are the activations cached by the matching forward call.
// The quantized base weight is frozen: it receives no gradient, which is
// the defining property of the adaptation scheme. The bias gradient is
// deliberately not computed here; the hosting layer reduces gradY over the
// leading dimensions if it trains a bias.
func LoRABackward(w *quant.Weight, a, b, x, loraA, gradY *tensor.Tensor, pol Policy) (gradA, gradB, gradX *tensor.Tensor, err error) {
	if err := pol.validate(); err != nil {
		return nil, nil, nil, err
	}
	wT, rank, err := checkAdapters(w, a, b, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	x2d, err := promote2D(x, "lora_backward input", w.InFeatures)
	if err != nil {
		return nil, nil, nil, err
	}
	loraA2d, err := promote2D(loraA, "lora_backward rank activation", rank)
	if err != nil {
		return nil, nil, nil, err
	}
	grad2d, err := promote2D(gradY, "lora_backward output gradient", w.OutFeatures)
	if err != nil {
		return nil, nil, nil, err
	}
	if x2d.Shape()[0] != grad2d.Shape()[0] || x2d.Shape()[0] != loraA2d.Shape()[0] {
		return nil, nil, nil, &tensor.ShapeError{
			Op:     "lora_backward",
			Detail: "activation cache and gradient row counts disagree",
		}
	}

	a32, err := promoteMatrix(a)
	if err != nil {
		return nil, nil, nil, err
	}
	b32, err := promoteMatrix(b)
	if err != nil {
		return nil, nil, nil, err
	}

	bT, err := tensor.Transpose2D(b32)
	if err != nil {
		return nil, nil, nil, err
	}
	gradMedium, err := tensor.MatMul(grad2d, bT) // (M, rank)
	if err != nil {
		return nil, nil, nil, err
	}

	xT, err := tensor.Transpose2D(x2d)
	if err != nil {
		return nil, nil, nil, err
	}
	if gradA, err = tensor.MatMul(xT, gradMedium); err != nil { // (in, rank)
		return nil, nil, nil, err
	}

	loraAT, err := tensor.Transpose2D(loraA2d)
	if err != nil {
		return nil, nil, nil, err
	}
	if gradB, err = tensor.MatMul(loraAT, grad2d); err != nil { // (rank, out)
		return nil, nil, nil, err
	}

	// gradX = gradY @ W + gradMedium @ A^T, where W = dequant(w) as
	// (out, in); wT holds (in, out), so transpose back.
	wBack, err := tensor.Transpose2D(wT)
	if err != nil {
		return nil, nil, nil, err
	}
	gradX2d, err := tensor.MatMul(grad2d, wBack) // (M, in)
	if err != nil {
		return nil, nil, nil, err
	}
	aT, err := tensor.Transpose2D(a32)
	if err != nil {
		return nil, nil, nil, err
	}
	gradXLora, err := tensor.MatMul(gradMedium, aT) // (M, in)
	if err != nil {
		return nil, nil, nil, err
	}
	addSlices(gradX2d.AsFloat32(), gradXLora.AsFloat32())

	if gradX, err = gradX2d.Reshape(replaceTrailing(x.Shape(), w.InFeatures)); err != nil {
		return nil, nil, nil, err
	}
	return gradA, gradB, gradX, nil
}

// checkAdapters validates the adapter pair against the packed weight,
// dequantizes the base, and returns it transposed to (in, out) along with
// the adapter rank. A violated precondition fails fast rather than
// producing silently wrong numerics.
func checkAdapters(w *quant.Weight, a, b, bias *tensor.Tensor) (wT *tensor.Tensor, rank int, err error) {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || aShape[0] != w.InFeatures {
		return nil, 0, &tensor.ShapeError{
			Op:     "lora",
			Detail: "adapter A must be (in_features, rank), got " + aShape.String(),
		}
	}
	rank = aShape[1]
	if len(bShape) != 2 || bShape[0] != rank || bShape[1] != w.OutFeatures {
		return nil, 0, &tensor.ShapeError{
			Op:     "lora",
			Detail: "adapter B must be (rank, out_features), got " + bShape.String(),
		}
	}
	if bias != nil && !bias.Shape().Equal(tensor.Shape{w.OutFeatures}) {
		return nil, 0, &tensor.ShapeError{
			Op:     "lora",
			Detail: "bias must be (out_features,), got " + bias.Shape().String(),
		}
	}

	deq, err := quant.Dequantize(w)
	if err != nil {
		return nil, 0, err
	}
	if wT, err = tensor.Transpose2D(deq); err != nil {
		return nil, 0, err
	}
	return wT, rank, nil
}

// promote2D views t as (M, trailing) in the compute precision.
func promote2D(t *tensor.Tensor, what string, trailing int) (*tensor.Tensor, error) {
	shape := t.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != trailing {
		return nil, &tensor.ShapeError{
			Op:     "lora",
			Detail: fmt.Sprintf("%s must have trailing dimension %d, got shape %v", what, trailing, shape),
		}
	}
	t32, err := promoteMatrix(t)
	if err != nil {
		return nil, err
	}
	return t32.Reshape(tensor.Shape{t.NumElements() / trailing, trailing})
}

// promoteMatrix returns t in the compute precision, aliasing when already
// Float32.
func promoteMatrix(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t.DType() == tensor.Float32 {
		return t, nil
	}
	return t.Cast(tensor.Float32)
}

// addSlices adds src into dst element-wise; lengths must match.
func addSlices(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// addRows adds a length-N bias into every row of a (M, N) buffer.
func addRows(dst, bias []float32) {
	n := len(bias)
	for off := 0; off < len(dst); off += n {
		row := dst[off : off+n]
		for j := range row {
			row[j] += bias[j]
		}
	}
}

// replaceTrailing returns s with its last dimension replaced by n.
func replaceTrailing(s tensor.Shape, n int) tensor.Shape {
	out := s.Clone()
	out[len(out)-1] = n
	return out
}
