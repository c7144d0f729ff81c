package kernels

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-ml/quill/internal/tensor"
)

func TestRMSNormForwardReferenceVector(t *testing.T) {
	x, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{1, 4})
	require.NoError(t, err)
	w := tensor.Full(tensor.Shape{4}, 1)

	y, rstd, err := RMSNormForward(x, w, 1e-5, DefaultPolicy())
	require.NoError(t, err)

	// var = (1+4+9+16)/4 = 7.5, rstd = 1/sqrt(7.50001)
	require.Equal(t, tensor.Shape{1}, rstd.Shape())
	assert.InDelta(t, 0.3651482, rstd.AsFloat32()[0], 1e-6)
	want := []float32{0.3651482, 0.7302964, 1.0954446, 1.4605928}
	for i, v := range y.AsFloat32() {
		assert.InDelta(t, want[i], v, 1e-5)
	}
}

func TestRMSNormForwardFloat16(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := tensor.Randn(tensor.Shape{4, 32}, rng)
	w := tensor.Randn(tensor.Shape{32}, rng)
	xHalf, err := x.Cast(tensor.Float16)
	require.NoError(t, err)

	yFull, _, err := RMSNormForward(x, w, 1e-5, DefaultPolicy())
	require.NoError(t, err)
	yHalf, rstd, err := RMSNormForward(xHalf, w, 1e-5, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, tensor.Float16, yHalf.DType())
	assert.Equal(t, tensor.Float32, rstd.DType())
	half, err := yHalf.Float32Data()
	require.NoError(t, err)
	full := yFull.AsFloat32()
	for i, v := range half {
		assert.InDelta(t, full[i], v, 5e-2)
	}
}

func TestRMSNormForwardRowWidthCapacity(t *testing.T) {
	n := maxFusedBytes/tensor.Float32.Size() + 1
	x := tensor.Zeros(tensor.Shape{1, n}, tensor.Float32)
	w := tensor.Zeros(tensor.Shape{n}, tensor.Float32)

	_, _, err := RMSNormForward(x, w, 1e-5, DefaultPolicy())
	var resErr *tensor.ResourceError
	require.ErrorAs(t, err, &resErr)
}

func TestRMSNormForwardRejectsMismatchedWeight(t *testing.T) {
	x := tensor.Zeros(tensor.Shape{2, 8}, tensor.Float32)
	w := tensor.Zeros(tensor.Shape{4}, tensor.Float32)

	_, _, err := RMSNormForward(x, w, 1e-5, DefaultPolicy())
	var shapeErr *tensor.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestRMSNormBackwardFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	const rows, n = 3, 8
	x := tensor.Randn(tensor.Shape{rows, n}, rng)
	w := tensor.Randn(tensor.Shape{n}, rng)

	seed := make([]float32, rows*n)
	for i := range seed {
		seed[i] = float32(rng.NormFloat64())
	}
	dy, err := tensor.FromFloat32(seed, tensor.Shape{rows, n})
	require.NoError(t, err)

	_, rstd, err := RMSNormForward(x, w, 1e-5, DefaultPolicy())
	require.NoError(t, err)
	dx, dwPartial, err := RMSNormBackward(dy, x, w, rstd, 1e-5, DefaultPolicy())
	require.NoError(t, err)
	dw, err := ReduceDW(dwPartial)
	require.NoError(t, err)

	loss := func() float32 {
		y, _, err := RMSNormForward(x, w, 1e-5, DefaultPolicy())
		require.NoError(t, err)
		return sumWeighted(y, seed)
	}

	const eps = 1e-2
	check := func(param *tensor.Tensor, analytic *tensor.Tensor, name string) {
		data := param.AsFloat32()
		grad := analytic.AsFloat32()
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			plus := loss()
			data[i] = orig - eps
			minus := loss()
			data[i] = orig
			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, grad[i], 3e-2, "%s[%d]", name, i)
		}
	}
	check(x, dx, "dx")
	check(w, dw, "dw")
}

// The input gradient must not depend on how rows are partitioned across
// weight-gradient groups or how many workers run the grid, and the reduced
// weight gradient may differ only by summation order.
func TestRMSNormBackwardPartitionInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	const rows, n = 64, 16
	x := tensor.Randn(tensor.Shape{rows, n}, rng)
	w := tensor.Randn(tensor.Shape{n}, rng)
	dy := tensor.Randn(tensor.Shape{rows, n}, rng)

	_, rstd, err := RMSNormForward(x, w, 1e-5, DefaultPolicy())
	require.NoError(t, err)

	base := DefaultPolicy()
	base.Workers = 1
	refDX, refPartial, err := rmsNormBackwardGrouped(dy, x, w, rstd, 1e-5, base, 1, rows, n)
	require.NoError(t, err)
	refDW, err := ReduceDW(refPartial)
	require.NoError(t, err)

	for _, groups := range []int{1, 4, 16, 256} {
		for _, workers := range []int{1, 2, 4, 8} {
			pol := DefaultPolicy()
			pol.Workers = workers
			dx, dwPartial, err := rmsNormBackwardGrouped(dy, x, w, rstd, 1e-5, pol, groups, rows, n)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{groups, n}, dwPartial.Shape())

			// dx takes no part in the shared reduction: identical bits.
			assert.Equal(t, refDX.AsFloat32(), dx.AsFloat32(),
				"groups=%d workers=%d", groups, workers)

			dw, err := ReduceDW(dwPartial)
			require.NoError(t, err)
			for j, v := range dw.AsFloat32() {
				assert.InDelta(t, refDW.AsFloat32()[j], v, 1e-4,
					"groups=%d workers=%d dw[%d]", groups, workers, j)
			}
		}
	}
}

func TestRMSNormBackwardRejectsMismatchedGradient(t *testing.T) {
	x := tensor.Zeros(tensor.Shape{2, 8}, tensor.Float32)
	w := tensor.Zeros(tensor.Shape{8}, tensor.Float32)
	dy := tensor.Zeros(tensor.Shape{3, 8}, tensor.Float32)
	rstd := tensor.Zeros(tensor.Shape{2}, tensor.Float32)

	_, _, err := RMSNormBackward(dy, x, w, rstd, 1e-5, DefaultPolicy())
	var shapeErr *tensor.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestGroupSizeThresholds(t *testing.T) {
	assert.Equal(t, 256, GroupSize(64))
	assert.Equal(t, 256, GroupSize(1024))
	assert.Equal(t, 128, GroupSize(1025))
	assert.Equal(t, 128, GroupSize(4096))
	assert.Equal(t, 96, GroupSize(4097))
	assert.Equal(t, 96, GroupSize(8192))
	assert.Equal(t, 64, GroupSize(8193))
}

func TestReduceDW(t *testing.T) {
	partial, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})
	require.NoError(t, err)
	dw, err := ReduceDW(partial)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 12}, dw.AsFloat32())

	_, err = ReduceDW(tensor.Zeros(tensor.Shape{4}, tensor.Float32))
	var shapeErr *tensor.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}
