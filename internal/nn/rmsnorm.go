package nn

import (
	"fmt"

	"github.com/quill-ml/quill/internal/kernels"
	"github.com/quill-ml/quill/internal/tensor"
)

// RMSNorm applies root-mean-square normalization over the last dimension:
//
//	y = x / sqrt(mean(x^2) + eps) * gamma
//
// No mean subtraction is performed, which is what distinguishes RMSNorm
// from LayerNorm and makes it the cheaper choice used by LLaMA-family
// architectures. Forward saves the per-row reciprocal standard deviation;
// Backward reuses that exact buffer rather than recomputing it, keeping
// the two passes consistent under floating-point rounding.
type RMSNorm struct {
	Gamma   *Parameter // learnable scale (d_model,)
	Epsilon float32

	Policy kernels.Policy

	cache *rmsNormCache
}

type rmsNormCache struct {
	x    *tensor.Tensor
	rstd *tensor.Tensor
}

// NewRMSNorm creates an RMSNorm layer over the trailing dimension dModel.
// Gamma is initialized to ones.
func NewRMSNorm(dModel int, epsilon float32) *RMSNorm {
	return &RMSNorm{
		Gamma:   NewParameter("gamma", tensor.Full(tensor.Shape{dModel}, 1)),
		Epsilon: epsilon,
		Policy:  kernels.DefaultPolicy(),
	}
}

// Forward normalizes x of shape (..., d_model) and caches the row
// statistics for Backward.
func (r *RMSNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, rstd, err := kernels.RMSNormForward(x, r.Gamma.Tensor(), r.Epsilon, r.Policy)
	if err != nil {
		return nil, err
	}
	r.cache = &rmsNormCache{x: x, rstd: rstd}
	return y, nil
}

// Backward consumes the cached statistics, accumulates the reduced weight
// gradient into Gamma, and returns the input gradient.
func (r *RMSNorm) Backward(gradY *tensor.Tensor) (*tensor.Tensor, error) {
	if r.cache == nil {
		return nil, fmt.Errorf("rmsnorm: backward called without a cached forward pass")
	}
	cache := r.cache
	r.cache = nil

	dx, dwPartial, err := kernels.RMSNormBackward(gradY, cache.x, r.Gamma.Tensor(), cache.rstd, r.Epsilon, r.Policy)
	if err != nil {
		return nil, err
	}
	dw, err := kernels.ReduceDW(dwPartial)
	if err != nil {
		return nil, err
	}
	if err := r.Gamma.AccumulateGrad(dw); err != nil {
		return nil, err
	}
	return dx, nil
}

// Parameters returns the learnable parameters (gamma).
func (r *RMSNorm) Parameters() []*Parameter {
	return []*Parameter{r.Gamma}
}
