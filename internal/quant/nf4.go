// Package quant implements the NF4 (4-bit NormalFloat) quantization
// provider consumed by the LoRA kernels.
//
// A quantized weight is an opaque packed matrix plus the scale metadata
// needed to reconstruct it. The kernels treat Dequantize as a black box
// with the sole contract "lossy inverse of the prior quantization step,
// deterministic for fixed inputs". Reconstruction happens on every
// forward/backward call; nothing is cached between calls.
package quant

import (
	"fmt"

	"github.com/quill-ml/quill/internal/tensor"
)

// nf4Code contains the 16 fixed NF4 dequantization values: the quantiles
// of a standard normal, rescaled to [-1, 1].
var nf4Code = [16]float32{
	-1.0, -0.6961928009986877, -0.5250730514526367, -0.39491748809814453,
	-0.28444138169288635, -0.18477343022823334, -0.09105003625154495, 0,
	0.07958029955625534, 0.16093020141124725, 0.24611230194568634, 0.33791524171829224,
	0.44070982933044434, 0.5626170039176941, 0.7229568362236023, 1.0,
}

// DefaultBlockSize is the number of consecutive elements (row-major over
// the flattened weight) that share one absmax scale.
const DefaultBlockSize = 64

// State holds the scale metadata required to reconstruct a packed weight.
type State struct {
	// Absmax holds one scale per quantization block.
	Absmax []float32
	// BlockSize is the number of elements per scale block.
	BlockSize int
}

// Weight is a 4-bit packed weight matrix of logical shape
// (OutFeatures, InFeatures). Two elements are packed per byte, low nibble
// first. The packed payload and state are read-only to the kernels and may
// be shared across any number of concurrent calls without synchronization.
type Weight struct {
	Packed      *tensor.Tensor // Uint8, shape (OutFeatures, InFeatures/2)
	State       State
	OutFeatures int
	InFeatures  int
}

// Quantize packs a Float32 matrix of shape (out, in) into NF4 form with
// per-block absmax scales. The in dimension must be even (two nibbles per
// byte) and divisible into blocks.
func Quantize(m *tensor.Tensor, blockSize int) (*Weight, error) {
	shape := m.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("quant: expected 2D weight, got %v", shape)
	}
	if m.DType() != tensor.Float32 {
		return nil, fmt.Errorf("quant: expected float32 weight, got %s", m.DType())
	}
	out, in := shape[0], shape[1]
	if in%2 != 0 {
		return nil, fmt.Errorf("quant: in_features %d must be even for 4-bit packing", in)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	n := out * in
	if n%blockSize != 0 {
		return nil, fmt.Errorf("quant: weight size %d not divisible by block size %d", n, blockSize)
	}

	src := m.AsFloat32()
	numBlocks := n / blockSize
	absmax := make([]float32, numBlocks)
	for b := range absmax {
		var amax float32
		for _, v := range src[b*blockSize : (b+1)*blockSize] {
			if v < 0 {
				v = -v
			}
			if v > amax {
				amax = v
			}
		}
		absmax[b] = amax
	}

	packed := tensor.Zeros(tensor.Shape{out, in / 2}, tensor.Uint8)
	dst := packed.AsUint8()
	for i := 0; i < n; i += 2 {
		lo := nearestCode(src[i], absmax[i/blockSize])
		hi := nearestCode(src[i+1], absmax[(i+1)/blockSize])
		dst[i/2] = lo | hi<<4
	}

	return &Weight{
		Packed:      packed,
		State:       State{Absmax: absmax, BlockSize: blockSize},
		OutFeatures: out,
		InFeatures:  in,
	}, nil
}

// nearestCode returns the index of the NF4 code value closest to v/absmax.
func nearestCode(v, absmax float32) uint8 {
	if absmax == 0 {
		return 7 // code[7] == 0
	}
	target := v / absmax
	best := uint8(0)
	bestDist := float32(-1)
	for i, c := range nf4Code {
		d := target - c
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = uint8(i)
		}
	}
	return best
}

// Dequantize reconstructs the full-precision (out, in) Float32 matrix.
// Deterministic for fixed inputs; the caller owns the returned tensor.
func Dequantize(w *Weight) (*tensor.Tensor, error) {
	if w == nil || w.Packed == nil {
		return nil, fmt.Errorf("quant: nil weight")
	}
	n := w.OutFeatures * w.InFeatures
	if w.Packed.NumElements()*2 != n {
		return nil, fmt.Errorf("quant: packed payload holds %d elements, want %d",
			w.Packed.NumElements()*2, n)
	}
	bs := w.State.BlockSize
	if bs <= 0 || len(w.State.Absmax) != n/bs {
		return nil, fmt.Errorf("quant: state has %d scales, want %d", len(w.State.Absmax), n/bs)
	}

	out := tensor.Zeros(tensor.Shape{w.OutFeatures, w.InFeatures}, tensor.Float32)
	dst := out.AsFloat32()
	src := w.Packed.AsUint8()
	for i, b := range src {
		lo := nf4Code[b&0x0f]
		hi := nf4Code[b>>4]
		dst[2*i] = lo * w.State.Absmax[(2*i)/bs]
		dst[2*i+1] = hi * w.State.Absmax[(2*i+1)/bs]
	}
	return out, nil
}
