package nn

import (
	"fmt"

	"github.com/quill-ml/quill/internal/tensor"
)

// HiddenToHeadShape splits the trailing hidden dimension of a
// (batch, seq, hidden) tensor into attention heads and moves the head axis
// before the sequence axis:
//
//	(batch, seq, hidden) -> (batch, numHeads, seq, hidden/numHeads)
//
// hidden must divide evenly by numHeads; otherwise a ShapeError is
// returned, never a padded or truncated result.
func HiddenToHeadShape(x *tensor.Tensor, numHeads int) (*tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, &tensor.ShapeError{
			Op:     "hidden_to_head",
			Detail: fmt.Sprintf("expected (batch, seq, hidden), got %v", shape),
		}
	}
	batch, seq, hidden := shape[0], shape[1], shape[2]
	if numHeads <= 0 || hidden%numHeads != 0 {
		return nil, &tensor.ShapeError{
			Op:     "hidden_to_head",
			Detail: fmt.Sprintf("hidden dimension %d not divisible by %d heads", hidden, numHeads),
		}
	}
	headDim := hidden / numHeads

	out := tensor.Zeros(tensor.Shape{batch, numHeads, seq, headDim}, x.DType())
	// (b, s, h, d) -> (b, h, s, d): a transpose of the middle axes, done
	// as contiguous head_dim row copies.
	src := x.Data()
	dst := out.Data()
	rowBytes := headDim * x.DType().Size()
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			for h := 0; h < numHeads; h++ {
				srcOff := ((b*seq+s)*numHeads + h) * rowBytes
				dstOff := ((b*numHeads+h)*seq + s) * rowBytes
				copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
			}
		}
	}
	return out, nil
}

// HeadToHiddenShape is the exact left inverse of HiddenToHeadShape:
//
//	(batch, numHeads, seq, headDim) -> (batch, seq, numHeads*headDim)
func HeadToHiddenShape(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 4 {
		return nil, &tensor.ShapeError{
			Op:     "head_to_hidden",
			Detail: fmt.Sprintf("expected (batch, heads, seq, head_dim), got %v", shape),
		}
	}
	batch, numHeads, seq, headDim := shape[0], shape[1], shape[2], shape[3]

	out := tensor.Zeros(tensor.Shape{batch, seq, numHeads * headDim}, x.DType())
	src := x.Data()
	dst := out.Data()
	rowBytes := headDim * x.DType().Size()
	for b := 0; b < batch; b++ {
		for h := 0; h < numHeads; h++ {
			for s := 0; s < seq; s++ {
				srcOff := ((b*numHeads+h)*seq + s) * rowBytes
				dstOff := ((b*seq+s)*numHeads + h) * rowBytes
				copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
			}
		}
	}
	return out, nil
}

// RepeatKV broadcasts each key/value head across nRep query groups for
// grouped-query attention:
//
//	(batch, kvHeads, seq, headDim) -> (batch, kvHeads*nRep, seq, headDim)
//
// Head h of the input appears at output heads h*nRep .. h*nRep+nRep-1.
// With nRep == 1 the input is returned unchanged.
func RepeatKV(kv *tensor.Tensor, nRep int) (*tensor.Tensor, error) {
	if nRep < 1 {
		return nil, &tensor.ShapeError{
			Op:     "repeat_kv",
			Detail: fmt.Sprintf("repetition factor must be >= 1, got %d", nRep),
		}
	}
	shape := kv.Shape()
	if len(shape) != 4 {
		return nil, &tensor.ShapeError{
			Op:     "repeat_kv",
			Detail: fmt.Sprintf("expected (batch, kv_heads, seq, head_dim), got %v", shape),
		}
	}
	if nRep == 1 {
		return kv, nil
	}
	batch, kvHeads, seq, headDim := shape[0], shape[1], shape[2], shape[3]

	out := tensor.Zeros(tensor.Shape{batch, kvHeads * nRep, seq, headDim}, kv.DType())
	src := kv.Data()
	dst := out.Data()
	headBytes := seq * headDim * kv.DType().Size()
	for b := 0; b < batch; b++ {
		for h := 0; h < kvHeads; h++ {
			srcOff := (b*kvHeads + h) * headBytes
			block := src[srcOff : srcOff+headBytes]
			for r := 0; r < nRep; r++ {
				dstOff := (b*kvHeads*nRep + h*nRep + r) * headBytes
				copy(dst[dstOff:dstOff+headBytes], block)
			}
		}
	}
	return out, nil
}

// RepeatKVBackward is the adjoint of RepeatKV: it folds the expanded head
// axis back into (kvHeads, nRep) and reduce-sums over the repetition axis,
// so each kv head receives the summed gradient of every query group it
// served:
//
//	(batch, kvHeads*nRep, seq, headDim) -> (batch, kvHeads, seq, headDim)
func RepeatKVBackward(grad *tensor.Tensor, nRep int) (*tensor.Tensor, error) {
	if nRep < 1 {
		return nil, &tensor.ShapeError{
			Op:     "repeat_kv_backward",
			Detail: fmt.Sprintf("repetition factor must be >= 1, got %d", nRep),
		}
	}
	shape := grad.Shape()
	if len(shape) != 4 || shape[1]%nRep != 0 {
		return nil, &tensor.ShapeError{
			Op:     "repeat_kv_backward",
			Detail: fmt.Sprintf("head axis of %v not divisible by repetition factor %d", shape, nRep),
		}
	}
	if nRep == 1 {
		return grad, nil
	}
	batch, heads, seq, headDim := shape[0], shape[1], shape[2], shape[3]
	kvHeads := heads / nRep

	g32, err := grad.Float32Data()
	if err != nil {
		return nil, err
	}
	out := tensor.Zeros(tensor.Shape{batch, kvHeads, seq, headDim}, tensor.Float32)
	dst := out.AsFloat32()
	headLen := seq * headDim
	for b := 0; b < batch; b++ {
		for h := 0; h < kvHeads; h++ {
			acc := dst[(b*kvHeads+h)*headLen : (b*kvHeads+h+1)*headLen]
			for r := 0; r < nRep; r++ {
				src := g32[(b*heads+h*nRep+r)*headLen : (b*heads+h*nRep+r+1)*headLen]
				for i, v := range src {
					acc[i] += v
				}
			}
		}
	}
	if grad.DType() != tensor.Float32 {
		return out.Cast(grad.DType())
	}
	return out, nil
}
