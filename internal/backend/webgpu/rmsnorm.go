//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/quill-ml/quill/internal/kernels"
	"github.com/quill-ml/quill/internal/tensor"
)

// RMSNormForward runs the fused normalization forward pass on the GPU, one
// workgroup per row. Semantics match kernels.RMSNormForward for Float32
// inputs; half-precision storage stays on the CPU path, which owns the
// promotion policy.
func (b *Backend) RMSNormForward(x, w *tensor.Tensor, eps float32) (y, rstd *tensor.Tensor, err error) {
	m, n, err := normOperands(x, w)
	if err != nil {
		return nil, nil, err
	}

	shader := b.compileShader("rmsnorm_forward", rmsNormForwardShader)
	pipeline := b.getOrCreatePipeline("rmsnorm_forward", shader)

	bufX := b.createBuffer(x.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()
	bufW := b.createBuffer(w.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufW.Release()

	ySize := uint64(x.ByteSize())
	bufY := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  ySize,
	})
	defer bufY.Release()

	rstdSize := uint64(m * 4)
	bufRstd := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  rstdSize,
	})
	defer bufRstd.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(m))
	binary.LittleEndian.PutUint32(params[4:8], uint32(n))
	binary.LittleEndian.PutUint32(params[8:12], math.Float32bits(eps))
	bufParams := b.createUniformBuffer(params)
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, ySize),
		wgpu.BufferBindingEntry(1, bufW, 0, uint64(w.ByteSize())),
		wgpu.BufferBindingEntry(2, bufY, 0, ySize),
		wgpu.BufferBindingEntry(3, bufRstd, 0, rstdSize),
		wgpu.BufferBindingEntry(4, bufParams, 0, 16),
	})
	defer bindGroup.Release()

	b.dispatchRows(pipeline, bindGroup, m)

	yData, err := b.readBuffer(bufY, ySize)
	if err != nil {
		return nil, nil, err
	}
	rstdData, err := b.readBuffer(bufRstd, rstdSize)
	if err != nil {
		return nil, nil, err
	}

	y, err = tensor.New(x.Shape(), tensor.Float32)
	if err != nil {
		return nil, nil, err
	}
	copy(y.Data(), yData)
	rstd = tensor.Zeros(tensor.Shape{m}, tensor.Float32)
	copy(rstd.Data(), rstdData)
	return y, rstd, nil
}

// RMSNormBackward runs the fused backward pass on the GPU. The returned
// partial weight gradient has shape (groups, N) with the same grouping
// rule as the CPU kernel; the caller reduces it with kernels.ReduceDW.
func (b *Backend) RMSNormBackward(dy, x, w, rstd *tensor.Tensor) (dx, dwPartial *tensor.Tensor, err error) {
	m, n, err := normOperands(x, w)
	if err != nil {
		return nil, nil, err
	}
	if !dy.Shape().Equal(x.Shape()) || dy.DType() != tensor.Float32 {
		return nil, nil, &tensor.ShapeError{
			Op:     "webgpu_rmsnorm_backward",
			Detail: fmt.Sprintf("dy must be Float32 with shape %v, got %s %v", x.Shape(), dy.DType(), dy.Shape()),
		}
	}
	if !rstd.Shape().Equal(tensor.Shape{m}) {
		return nil, nil, &tensor.ShapeError{
			Op:     "webgpu_rmsnorm_backward",
			Detail: "rstd must hold one entry per row",
		}
	}
	groups := kernels.GroupSize(n)

	shader := b.compileShader("rmsnorm_backward", rmsNormBackwardShader)
	pipeline := b.getOrCreatePipeline("rmsnorm_backward", shader)

	bufDY := b.createBuffer(dy.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufDY.Release()
	bufX := b.createBuffer(x.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()
	bufW := b.createBuffer(w.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufW.Release()
	bufRstd := b.createBuffer(rstd.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufRstd.Release()

	dxSize := uint64(x.ByteSize())
	bufDX := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  dxSize,
	})
	defer bufDX.Release()

	// The shader accumulates into this buffer atomically; new WebGPU buffers
	// are zero-filled, and the u32 zero bit pattern is f32 zero.
	dwSize := uint64(groups * n * 4)
	bufDW := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  dwSize,
	})
	defer bufDW.Release()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(m))
	binary.LittleEndian.PutUint32(params[4:8], uint32(n))
	binary.LittleEndian.PutUint32(params[8:12], uint32(groups))
	bufParams := b.createUniformBuffer(params)
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufDY, 0, dxSize),
		wgpu.BufferBindingEntry(1, bufX, 0, dxSize),
		wgpu.BufferBindingEntry(2, bufW, 0, uint64(w.ByteSize())),
		wgpu.BufferBindingEntry(3, bufRstd, 0, uint64(m*4)),
		wgpu.BufferBindingEntry(4, bufDX, 0, dxSize),
		wgpu.BufferBindingEntry(5, bufDW, 0, dwSize),
		wgpu.BufferBindingEntry(6, bufParams, 0, 16),
	})
	defer bindGroup.Release()

	b.dispatchRows(pipeline, bindGroup, m)

	dxData, err := b.readBuffer(bufDX, dxSize)
	if err != nil {
		return nil, nil, err
	}
	dwData, err := b.readBuffer(bufDW, dwSize)
	if err != nil {
		return nil, nil, err
	}

	dx, err = tensor.New(x.Shape(), tensor.Float32)
	if err != nil {
		return nil, nil, err
	}
	copy(dx.Data(), dxData)
	dwPartial = tensor.Zeros(tensor.Shape{groups, n}, tensor.Float32)
	copy(dwPartial.Data(), dwData)
	return dx, dwPartial, nil
}

func (b *Backend) dispatchRows(pipeline *wgpu.ComputePipeline, bindGroup *wgpu.BindGroup, rows int) {
	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	computePass.DispatchWorkgroups(uint32(rows), 1, 1)
	computePass.End()
	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)
}

// normOperands validates a Float32 (..., N) input against a Float32 (N,)
// weight and returns the flattened row count and width.
func normOperands(x, w *tensor.Tensor) (m, n int, err error) {
	if x.DType() != tensor.Float32 || w.DType() != tensor.Float32 {
		return 0, 0, fmt.Errorf("webgpu: rmsnorm requires float32 operands, got %s and %s", x.DType(), w.DType())
	}
	wShape := w.Shape()
	if len(wShape) != 1 {
		return 0, 0, &tensor.ShapeError{Op: "webgpu_rmsnorm", Detail: "weight must be 1D, got " + wShape.String()}
	}
	n = wShape[0]
	xShape := x.Shape()
	if len(xShape) == 0 || xShape[len(xShape)-1] != n {
		return 0, 0, &tensor.ShapeError{
			Op:     "webgpu_rmsnorm",
			Detail: fmt.Sprintf("input trailing dimension must match weight width %d, got %v", n, xShape),
		}
	}
	return x.NumElements() / n, n, nil
}
