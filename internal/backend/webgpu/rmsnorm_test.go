//go:build windows

package webgpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill-ml/quill/internal/kernels"
	"github.com/quill-ml/quill/internal/tensor"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New()
	if err != nil {
		t.Skipf("webgpu unavailable: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}

func TestRMSNormForwardMatchesCPU(t *testing.T) {
	b := newTestBackend(t)
	rng := rand.New(rand.NewSource(1))
	x := tensor.Randn(tensor.Shape{8, 512}, rng)
	w := tensor.Randn(tensor.Shape{512}, rng)

	gy, grstd, err := b.RMSNormForward(x, w, 1e-5)
	require.NoError(t, err)
	cy, crstd, err := kernels.RMSNormForward(x, w, 1e-5, kernels.DefaultPolicy())
	require.NoError(t, err)

	cpuY := cy.AsFloat32()
	for i, v := range gy.AsFloat32() {
		assert.InDelta(t, cpuY[i], v, 1e-4)
	}
	cpuR := crstd.AsFloat32()
	for i, v := range grstd.AsFloat32() {
		assert.InDelta(t, cpuR[i], v, 1e-5)
	}
}

func TestRMSNormBackwardMatchesCPU(t *testing.T) {
	b := newTestBackend(t)
	rng := rand.New(rand.NewSource(2))
	x := tensor.Randn(tensor.Shape{32, 256}, rng)
	w := tensor.Randn(tensor.Shape{256}, rng)
	dy := tensor.Randn(tensor.Shape{32, 256}, rng)

	_, rstd, err := kernels.RMSNormForward(x, w, 1e-5, kernels.DefaultPolicy())
	require.NoError(t, err)

	gdx, gpartial, err := b.RMSNormBackward(dy, x, w, rstd)
	require.NoError(t, err)
	cdx, cpartial, err := kernels.RMSNormBackward(dy, x, w, rstd, 1e-5, kernels.DefaultPolicy())
	require.NoError(t, err)

	cpuDX := cdx.AsFloat32()
	for i, v := range gdx.AsFloat32() {
		assert.InDelta(t, cpuDX[i], v, 1e-4)
	}

	gdw, err := kernels.ReduceDW(gpartial)
	require.NoError(t, err)
	cdw, err := kernels.ReduceDW(cpartial)
	require.NoError(t, err)
	cpuDW := cdw.AsFloat32()
	for i, v := range gdw.AsFloat32() {
		assert.InDelta(t, cpuDW[i], v, 1e-3)
	}
}

// More rows than accumulator groups, so several workgroups fold into the
// same partial weight-gradient row and every contribution must survive the
// concurrent accumulation.
func TestRMSNormBackwardContendedGroups(t *testing.T) {
	b := newTestBackend(t)
	rng := rand.New(rand.NewSource(3))
	const rows, width = 600, 64
	require.Greater(t, rows, kernels.GroupSize(width))

	x := tensor.Randn(tensor.Shape{rows, width}, rng)
	w := tensor.Randn(tensor.Shape{width}, rng)
	dy := tensor.Randn(tensor.Shape{rows, width}, rng)

	_, rstd, err := kernels.RMSNormForward(x, w, 1e-5, kernels.DefaultPolicy())
	require.NoError(t, err)

	_, gpartial, err := b.RMSNormBackward(dy, x, w, rstd)
	require.NoError(t, err)
	_, cpartial, err := kernels.RMSNormBackward(dy, x, w, rstd, 1e-5, kernels.DefaultPolicy())
	require.NoError(t, err)

	gdw, err := kernels.ReduceDW(gpartial)
	require.NoError(t, err)
	cdw, err := kernels.ReduceDW(cpartial)
	require.NoError(t, err)
	cpuDW := cdw.AsFloat32()
	for i, v := range gdw.AsFloat32() {
		assert.InDelta(t, cpuDW[i], v, 1e-2)
	}
}

func TestRMSNormRejectsHalfPrecision(t *testing.T) {
	b := newTestBackend(t)
	x, err := tensor.Zeros(tensor.Shape{2, 8}, tensor.Float32).Cast(tensor.Float16)
	require.NoError(t, err)
	w := tensor.Zeros(tensor.Shape{8}, tensor.Float32)

	_, _, err = b.RMSNormForward(x, w, 1e-5)
	require.Error(t, err)
}
