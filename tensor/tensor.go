// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for tensor storage and the dense
// math the Quill kernels build on:
//   - Tensor: a flat byte buffer with shape, strides, and a storage dtype
//   - Shape, DataType: core type definitions
//   - MatMul, Transpose2D: the float32 matrix primitives
//
// Storage may be Float16 but arithmetic always happens in Float32; the
// typed views and Cast handle the promotion at the boundary.
package tensor

import (
	"github.com/quill-ml/quill/internal/tensor"
)

// Type aliases for the public API.

// DataType represents the storage type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float16 DataType = tensor.Float16
	Uint8   DataType = tensor.Uint8
)

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// Tensor is a dense row-major tensor.
type Tensor = tensor.Tensor

// ShapeError reports a dimension mismatch or an invalid reshape.
type ShapeError = tensor.ShapeError

// ResourceError reports an input that exceeds a kernel's capacity.
type ResourceError = tensor.ResourceError

// Constructors.

var (
	New         = tensor.New
	Zeros       = tensor.Zeros
	Full        = tensor.Full
	FromFloat32 = tensor.FromFloat32
	Randn       = tensor.Randn
)

// Matrix operations.

var (
	MatMul      = tensor.MatMul
	Transpose2D = tensor.Transpose2D
	FlattenRows = tensor.FlattenRows
)

// Half-precision conversions.

var (
	Float16ToFloat32 = tensor.Float16ToFloat32
	Float32ToFloat16 = tensor.Float32ToFloat16
)
