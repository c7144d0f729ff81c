package quant

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-ml/quill/internal/tensor"
)

func TestQuantizePackingLayout(t *testing.T) {
	m, err := tensor.FromFloat32([]float32{-1, 1, 0, 0.5}, tensor.Shape{1, 4})
	require.NoError(t, err)

	w, err := Quantize(m, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, w.OutFeatures)
	assert.Equal(t, 4, w.InFeatures)
	assert.Equal(t, tensor.Shape{1, 2}, w.Packed.Shape())
	require.Len(t, w.State.Absmax, 1)
	assert.Equal(t, float32(1), w.State.Absmax[0])

	packed := w.Packed.AsUint8()
	// Low nibble holds the even-indexed element: -1 -> code 0, 1 -> code 15.
	assert.Equal(t, uint8(0|15<<4), packed[0])
}

func TestQuantizeDequantizeBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := tensor.Randn(tensor.Shape{8, 64}, rng)

	w, err := Quantize(m, DefaultBlockSize)
	require.NoError(t, err)
	deq, err := Dequantize(w)
	require.NoError(t, err)
	require.Equal(t, m.Shape(), deq.Shape())

	// 4-bit codes over a per-block absmax: reconstruction error is bounded
	// by half the widest codebook gap times the block's scale.
	src := m.AsFloat32()
	got := deq.AsFloat32()
	for b, absmax := range w.State.Absmax {
		bound := float64(absmax) * 0.18
		for i := b * w.State.BlockSize; i < (b+1)*w.State.BlockSize; i++ {
			assert.LessOrEqual(t, math.Abs(float64(src[i]-got[i])), bound, "element %d", i)
		}
	}
}

func TestDequantizeIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m := tensor.Randn(tensor.Shape{4, 32}, rng)

	w, err := Quantize(m, 16)
	require.NoError(t, err)
	a, err := Dequantize(w)
	require.NoError(t, err)
	b, err := Dequantize(w)
	require.NoError(t, err)
	assert.Equal(t, a.AsFloat32(), b.AsFloat32())
}

func TestQuantizeRoundTripFixedPoints(t *testing.T) {
	// Codebook values scaled by the block absmax reconstruct exactly.
	vals := make([]float32, 16)
	copy(vals, nf4Code[:])
	m, err := tensor.FromFloat32(vals, tensor.Shape{1, 16})
	require.NoError(t, err)

	w, err := Quantize(m, 16)
	require.NoError(t, err)
	deq, err := Dequantize(w)
	require.NoError(t, err)
	for i, v := range deq.AsFloat32() {
		assert.InDelta(t, vals[i], v, 1e-6, "code %d", i)
	}
}

func TestQuantizeZeroBlock(t *testing.T) {
	m := tensor.Zeros(tensor.Shape{2, 8}, tensor.Float32)
	w, err := Quantize(m, 8)
	require.NoError(t, err)
	deq, err := Dequantize(w)
	require.NoError(t, err)
	for _, v := range deq.AsFloat32() {
		assert.Equal(t, float32(0), v)
	}
}

func TestQuantizeRejectsBadShapes(t *testing.T) {
	_, err := Quantize(tensor.Zeros(tensor.Shape{4}, tensor.Float32), 4)
	require.Error(t, err)

	// Odd in_features cannot pack two codes per byte.
	_, err = Quantize(tensor.Zeros(tensor.Shape{2, 5}, tensor.Float32), 4)
	require.Error(t, err)
}
