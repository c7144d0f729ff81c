// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package kernels provides the public API for Quill's fused compute
// kernels: the quantized low-rank-adapter forward/backward pair and the
// fused RMS normalization forward/backward pair with its grouped
// weight-gradient reduction.
package kernels

import (
	"github.com/quill-ml/quill/internal/kernels"
)

// Policy is the compute-precision and parallelism policy threaded through
// every kernel call.
type Policy = kernels.Policy

// DefaultPolicy computes in Float32 on the full parallel grid.
var DefaultPolicy = kernels.DefaultPolicy

// Quantized LoRA kernels.

var (
	LoRAForward  = kernels.LoRAForward
	LoRABackward = kernels.LoRABackward
)

// Fused RMS normalization kernels.

var (
	RMSNormForward  = kernels.RMSNormForward
	RMSNormBackward = kernels.RMSNormBackward
	ReduceDW        = kernels.ReduceDW
	GroupSize       = kernels.GroupSize
)
