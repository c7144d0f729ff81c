package nn

import (
	"fmt"

	"github.com/quill-ml/quill/internal/tensor"
)

// Parameter represents a trainable tensor in a model.
//
// Parameters are the only tensors that receive gradients during training.
// In the quantized-adaptation setup these are the low-rank adapter
// matrices and normalization weights; the packed base weights are frozen
// and are deliberately not Parameters.
//
// Example:
//
//	a := nn.NewParameter("lora_a", aTensor)
//	// after backward:
//	grad := a.Grad()
type Parameter struct {
	name   string
	tensor *tensor.Tensor
	grad   *tensor.Tensor // nil until the first backward pass
}

// NewParameter creates a trainable parameter around an initialized tensor.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the accumulated gradient, or nil before any backward pass.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// AccumulateGrad adds g into the parameter's gradient buffer, allocating
// it on first use. Gradients accumulate across backward calls until
// ZeroGrad; the shape of g must match the parameter.
func (p *Parameter) AccumulateGrad(g *tensor.Tensor) error {
	if !g.Shape().Equal(p.tensor.Shape()) {
		return &tensor.ShapeError{
			Op:     "accumulate_grad",
			Detail: fmt.Sprintf("parameter %q has shape %v, gradient has shape %v", p.name, p.tensor.Shape(), g.Shape()),
		}
	}
	g32, err := g.Float32Data()
	if err != nil {
		return err
	}
	if p.grad == nil {
		p.grad = tensor.Zeros(p.tensor.Shape(), tensor.Float32)
	}
	dst := p.grad.AsFloat32()
	for i, v := range g32 {
		dst[i] += v
	}
	return nil
}

// ZeroGrad clears the gradient buffer. Call before each training step to
// avoid carrying gradients across iterations.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}
