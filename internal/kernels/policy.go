// Package kernels implements the compute core: the fused quantized-weight
// LoRA forward/backward math and the fused RMS-normalization kernel pair.
//
// All kernels follow one compute-precision policy: storage tensors may be
// Float16 or Float32, intermediate arithmetic always runs in the policy's
// compute domain (Float32), and results are cast back only at the boundary.
package kernels

import (
	"fmt"

	"github.com/quill-ml/quill/internal/tensor"
)

// Policy is the explicit compute-precision and scheduling policy threaded
// through every kernel, replacing ad hoc casts at each expression.
type Policy struct {
	// Compute is the precision domain for intermediate arithmetic.
	// Only Float32 is supported.
	Compute tensor.DataType
	// Workers bounds the parallel row-processing units; <= 0 selects
	// GOMAXPROCS. Results of row-independent outputs do not depend on it.
	Workers int
}

// DefaultPolicy returns the float32-compute policy used throughout training.
func DefaultPolicy() Policy {
	return Policy{Compute: tensor.Float32}
}

func (p Policy) validate() error {
	if p.Compute != tensor.Float32 {
		return fmt.Errorf("kernels: unsupported compute precision %s", p.Compute)
	}
	return nil
}
