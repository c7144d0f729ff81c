package kernels

import (
	"math"
	"runtime"
	"sync/atomic"

	"github.com/quill-ml/quill/internal/parallel"
	"github.com/quill-ml/quill/internal/tensor"
)

// maxFusedBytes bounds the working set of a single normalization row: a
// row wider than this (in storage elements) cannot be tiled and the kernel
// refuses it rather than silently truncating.
const maxFusedBytes = 65536

// GroupSize returns the number of weight-gradient reduction groups for a
// row width of n. Wider rows select fewer groups so the per-group partial
// accumulators (groups x n floats) stay bounded; with M rows and G locks,
// contention is O(M/G) per lock instead of O(M) on a global accumulator.
func GroupSize(n int) int {
	switch {
	case n <= 1024:
		return 256
	case n <= 4096:
		return 128
	case n <= 8192:
		return 96
	default:
		return 64
	}
}

// blockSizeFor returns the column tile width for a row of n storage
// elements, or a ResourceError when no tiling fits the working-set ceiling.
func blockSizeFor(n int, dt tensor.DataType) (int, error) {
	maxBlock := maxFusedBytes / dt.Size()
	block := nextPow2(n)
	if block > maxBlock {
		block = maxBlock
	}
	if n > block {
		return 0, &tensor.ResourceError{
			Op:     "rmsnorm",
			Detail: "row width exceeds fused kernel capacity",
		}
	}
	return block, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// RMSNormForward applies fused root-mean-square normalization row by row:
//
//	var  = mean(x_i^2)          (no mean subtraction)
//	rstd = 1 / sqrt(var + eps)
//	y_i  = x_i * rstd * w
//
// over an input of shape (..., N) with weight w of shape (N,). Rows are
// independent units of work dispatched onto the parallel grid. The
// variance accumulates in the compute precision in fixed-size column
// chunks regardless of storage precision; y is cast back to x's storage
// type at the boundary.
//
// The returned rstd tensor holds one reciprocal standard deviation per
// row, index-aligned with the flattened rows of x. Backward requires this
// exact buffer: recomputing it would break forward/backward consistency
// under floating-point rounding.
func RMSNormForward(x, w *tensor.Tensor, eps float32, pol Policy) (y, rstd *tensor.Tensor, err error) {
	if err := pol.validate(); err != nil {
		return nil, nil, err
	}
	m, n, err := normShape("rmsnorm_forward", x, w)
	if err != nil {
		return nil, nil, err
	}
	block, err := blockSizeFor(n, x.DType())
	if err != nil {
		return nil, nil, err
	}

	x32, err := x.Float32Data()
	if err != nil {
		return nil, nil, err
	}
	w32, err := w.Float32Data()
	if err != nil {
		return nil, nil, err
	}

	y, err = tensor.New(x.Shape(), x.DType())
	if err != nil {
		return nil, nil, err
	}
	rstd = tensor.Zeros(tensor.Shape{m}, tensor.Float32)
	rstdData := rstd.AsFloat32()

	var yF32 []float32
	var yF16 []uint16
	if y.DType() == tensor.Float32 {
		yF32 = y.AsFloat32()
	} else {
		yF16 = y.AsFloat16Bits()
	}

	parallel.For(m, func(row int) {
		xr := x32[row*n : (row+1)*n]

		// Streaming chunked sum of squares across column tiles.
		var acc float32
		for off := 0; off < n; off += block {
			end := min(off+block, n)
			for _, v := range xr[off:end] {
				acc += v * v
			}
		}
		variance := acc / float32(n)
		r := float32(1.0 / math.Sqrt(float64(variance+eps)))
		rstdData[row] = r

		for off := 0; off < n; off += block {
			end := min(off+block, n)
			for j := off; j < end; j++ {
				v := xr[j] * r * w32[j]
				if yF32 != nil {
					yF32[row*n+j] = v
				} else {
					yF16[row*n+j] = tensor.Float32ToFloat16(v)
				}
			}
		}
	}, gridConfig(pol))

	return y, rstd, nil
}

// RMSNormBackward computes the input gradient and the grouped partial
// weight gradient for RMSNormForward. Per row, with xhat = x*rstd and
// wdy = w*dy:
//
//	c1 = mean(xhat * wdy)
//	c2 = mean(wdy)
//	dx = (wdy - (xhat*c1 + c2)) * rstd
//
// dx is bit-for-bit independent of group assignment and parallelism. The
// per-row contribution dw_row = dy*xhat is accumulated into one of
// GroupSize(n) shared accumulators chosen by row index modulo the group
// count, under a per-group spinlock with a first-writer flag. The caller
// combines the returned (groups, N) partial tensor with ReduceDW; that
// final unlocked sum is the only reassociation-sensitive step, so tiny
// numeric differences across group counts are expected and acceptable.
//
// The lock state is allocated fresh for every invocation and never shared
// across overlapping backward calls.
func RMSNormBackward(dy, x, w, rstd *tensor.Tensor, eps float32, pol Policy) (dx, dwPartial *tensor.Tensor, err error) {
	m, n, err := normShape("rmsnorm_backward", x, w)
	if err != nil {
		return nil, nil, err
	}
	return rmsNormBackwardGrouped(dy, x, w, rstd, eps, pol, GroupSize(n), m, n)
}

// rmsNormBackwardGrouped is the group-count-parameterized implementation,
// split out so tests can vary the partition independently of row width.
func rmsNormBackwardGrouped(dy, x, w, rstd *tensor.Tensor, eps float32, pol Policy, groups, m, n int) (dx, dwPartial *tensor.Tensor, err error) {
	if err := pol.validate(); err != nil {
		return nil, nil, err
	}
	_ = eps // rstd is reused from forward; eps only documents the contract.
	if !dy.Shape().Equal(x.Shape()) {
		return nil, nil, &tensor.ShapeError{
			Op:     "rmsnorm_backward",
			Detail: "dy shape " + dy.Shape().String() + " does not match x shape " + x.Shape().String(),
		}
	}
	if !rstd.Shape().Equal(tensor.Shape{m}) {
		return nil, nil, &tensor.ShapeError{
			Op:     "rmsnorm_backward",
			Detail: "rstd must hold one entry per row",
		}
	}
	if _, err := blockSizeFor(n, x.DType()); err != nil {
		return nil, nil, err
	}

	x32, err := x.Float32Data()
	if err != nil {
		return nil, nil, err
	}
	dy32, err := dy.Float32Data()
	if err != nil {
		return nil, nil, err
	}
	w32, err := w.Float32Data()
	if err != nil {
		return nil, nil, err
	}
	rstdData := rstd.AsFloat32()

	dx, err = tensor.New(dy.Shape(), dy.DType())
	if err != nil {
		return nil, nil, err
	}
	var dxF32 []float32
	var dxF16 []uint16
	if dx.DType() == tensor.Float32 {
		dxF32 = dx.AsFloat32()
	} else {
		dxF16 = dx.AsFloat16Bits()
	}

	dwPartial = tensor.Zeros(tensor.Shape{groups, n}, tensor.Float32)
	dwData := dwPartial.AsFloat32()

	// One spinlock and one first-writer counter per reduction group,
	// exclusive to this invocation.
	locks := make([]int32, 2*groups)

	parallel.For(m, func(row int) {
		xr := x32[row*n : (row+1)*n]
		dyr := dy32[row*n : (row+1)*n]
		r := rstdData[row]

		xhat := make([]float32, n)
		wdy := make([]float32, n)
		var c1, c2 float32
		for j := 0; j < n; j++ {
			xhat[j] = xr[j] * r
			wdy[j] = w32[j] * dyr[j]
			c1 += xhat[j] * wdy[j]
			c2 += wdy[j]
		}
		c1 /= float32(n)
		c2 /= float32(n)

		for j := 0; j < n; j++ {
			v := (wdy[j] - (xhat[j]*c1 + c2)) * r
			if dxF32 != nil {
				dxF32[row*n+j] = v
			} else {
				dxF16[row*n+j] = tensor.Float32ToFloat16(v)
			}
		}

		// Accumulate dw_row = dy * xhat into this row's group under
		// mutual exclusion: acquire, read-or-initialize, write, release.
		lockID := row % groups
		lock := &locks[lockID]
		count := &locks[groups+lockID]
		acc := dwData[lockID*n : (lockID+1)*n]

		for !atomic.CompareAndSwapInt32(lock, 0, 1) {
			runtime.Gosched() // busy-wait; holders never block
		}
		if *count == 0 {
			// First contributor overwrites rather than adding into
			// uninitialized memory.
			for j := 0; j < n; j++ {
				acc[j] = dyr[j] * xhat[j]
			}
			*count = 1
		} else {
			for j := 0; j < n; j++ {
				acc[j] += dyr[j] * xhat[j]
			}
		}
		atomic.StoreInt32(lock, 0)
	}, gridConfig(pol))

	return dx, dwPartial, nil
}

// ReduceDW sums the (groups, N) partial weight-gradient accumulators over
// the group axis, producing the final weight gradient of shape (N,). This
// is the unlocked second phase of the two-phase reduction.
func ReduceDW(dwPartial *tensor.Tensor) (*tensor.Tensor, error) {
	shape := dwPartial.Shape()
	if len(shape) != 2 {
		return nil, &tensor.ShapeError{
			Op:     "rmsnorm_reduce_dw",
			Detail: "expected (groups, N) partials, got " + shape.String(),
		}
	}
	groups, n := shape[0], shape[1]
	src := dwPartial.AsFloat32()
	out := tensor.Zeros(tensor.Shape{n}, tensor.Float32)
	dst := out.AsFloat32()
	for g := 0; g < groups; g++ {
		row := src[g*n : (g+1)*n]
		for j := range dst {
			dst[j] += row[j]
		}
	}
	return out, nil
}

// normShape validates a (..., N) input against a weight of shape (N,) and
// returns the flattened row count and width.
func normShape(op string, x, w *tensor.Tensor) (m, n int, err error) {
	wShape := w.Shape()
	if len(wShape) != 1 {
		return 0, 0, &tensor.ShapeError{Op: op, Detail: "weight must be 1D, got " + wShape.String()}
	}
	n = wShape[0]
	xShape := x.Shape()
	if len(xShape) == 0 || xShape[len(xShape)-1] != n {
		return 0, 0, &tensor.ShapeError{
			Op:     op,
			Detail: "input trailing dimension must match weight width " + wShape.String() + ", got " + xShape.String(),
		}
	}
	return x.NumElements() / n, n, nil
}

func gridConfig(pol Policy) parallel.Config {
	cfg := parallel.DefaultConfig()
	if pol.Workers > 0 {
		cfg.Workers = pol.Workers
	}
	return cfg
}
