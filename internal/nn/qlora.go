package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/quill-ml/quill/internal/kernels"
	"github.com/quill-ml/quill/internal/quant"
	"github.com/quill-ml/quill/internal/tensor"
)

// QLoRALinear is a linear layer with a frozen 4-bit quantized base weight
// and a trainable low-rank correction:
//
//	y = x @ dequant(W)^T + bias + (x @ A) @ B
//
// Only A and B train; the packed base weight and the optional bias stay
// frozen. The base is dequantized on every call, trading compute for the
// memory the packed storage saves.
//
// Forward caches the activations its matching Backward consumes. The cache
// lives for exactly one forward/backward pair; calling Backward twice, or
// before Forward, is a contract violation and fails.
type QLoRALinear struct {
	Base *quant.Weight
	A    *Parameter // (in_features, rank)
	B    *Parameter // (rank, out_features)
	Bias *tensor.Tensor

	Policy kernels.Policy

	cache *loraCache
}

type loraCache struct {
	x     *tensor.Tensor
	loraA *tensor.Tensor
}

// NewQLoRALinear creates an adapter pair around a quantized base weight.
// A is initialized from a scaled normal distribution and B to zeros, so
// the layer starts out computing exactly the frozen base transform.
func NewQLoRALinear(base *quant.Weight, rank int, bias *tensor.Tensor, rng *rand.Rand) (*QLoRALinear, error) {
	if rank < 1 {
		return nil, &tensor.ShapeError{
			Op:     "qlora_linear",
			Detail: fmt.Sprintf("adapter rank must be >= 1, got %d", rank),
		}
	}
	a := tensor.Randn(tensor.Shape{base.InFeatures, rank}, rng)
	scale := float32(1.0 / math.Sqrt(float64(base.InFeatures)))
	for i, v := range a.AsFloat32() {
		a.AsFloat32()[i] = v * scale
	}
	b := tensor.Zeros(tensor.Shape{rank, base.OutFeatures}, tensor.Float32)

	return &QLoRALinear{
		Base:   base,
		A:      NewParameter("lora_a", a),
		B:      NewParameter("lora_b", b),
		Bias:   bias,
		Policy: kernels.DefaultPolicy(),
	}, nil
}

// Forward applies the layer to x of shape (..., in_features) and returns
// (..., out_features), caching the intermediates for Backward.
func (l *QLoRALinear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, _, loraA, err := kernels.LoRAForward(l.Base, l.A.Tensor(), l.B.Tensor(), l.Bias, x, l.Policy)
	if err != nil {
		return nil, err
	}
	l.cache = &loraCache{x: x, loraA: loraA}
	return out, nil
}

// Backward consumes the cached forward activations, accumulates adapter
// gradients into A and B, and returns the input gradient. The base weight
// receives no gradient. The bias gradient is the reduction of gradY over
// all leading dimensions and is only computed when a bias is present and
// requested by the caller through BiasGrad.
func (l *QLoRALinear) Backward(gradY *tensor.Tensor) (*tensor.Tensor, error) {
	if l.cache == nil {
		return nil, fmt.Errorf("qlora_linear: backward called without a cached forward pass")
	}
	cache := l.cache
	l.cache = nil

	gradA, gradB, gradX, err := kernels.LoRABackward(l.Base, l.A.Tensor(), l.B.Tensor(), cache.x, cache.loraA, gradY, l.Policy)
	if err != nil {
		return nil, err
	}
	if err := l.A.AccumulateGrad(gradA); err != nil {
		return nil, err
	}
	if err := l.B.AccumulateGrad(gradB); err != nil {
		return nil, err
	}
	return gradX, nil
}

// BiasGrad reduces an output gradient over its leading dimensions to the
// bias shape (out_features,). The layer never accumulates this itself;
// the bias is frozen in the adaptation setup.
func (l *QLoRALinear) BiasGrad(gradY *tensor.Tensor) (*tensor.Tensor, error) {
	g32, err := gradY.Float32Data()
	if err != nil {
		return nil, err
	}
	n := l.Base.OutFeatures
	shape := gradY.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != n {
		return nil, &tensor.ShapeError{
			Op:     "qlora_bias_grad",
			Detail: fmt.Sprintf("gradient trailing dimension must be %d, got %v", n, shape),
		}
	}
	out := tensor.Zeros(tensor.Shape{n}, tensor.Float32)
	dst := out.AsFloat32()
	for off := 0; off < len(g32); off += n {
		for j := 0; j < n; j++ {
			dst[j] += g32[off+j]
		}
	}
	return out, nil
}

// Parameters returns the trainable parameters (the adapter pair).
func (l *QLoRALinear) Parameters() []*Parameter {
	return []*Parameter{l.A, l.B}
}
