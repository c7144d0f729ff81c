// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for Quill's layers: the quantized
// low-rank-adapted linear layer, RMS normalization, and the head-shape
// utilities grouped-query attention needs around them.
package nn

import (
	"github.com/quill-ml/quill/internal/nn"
)

// Parameter is a trainable tensor with an accumulated gradient.
type Parameter = nn.Parameter

// NewParameter creates a trainable parameter around an initialized tensor.
var NewParameter = nn.NewParameter

// Layers.

type (
	// QLoRALinear is a linear layer with a frozen quantized base weight
	// and a trainable low-rank correction.
	QLoRALinear = nn.QLoRALinear
	// RMSNorm is a root-mean-square normalization layer.
	RMSNorm = nn.RMSNorm
)

var (
	NewQLoRALinear = nn.NewQLoRALinear
	NewRMSNorm     = nn.NewRMSNorm
)

// Head-shape adapters.

var (
	HiddenToHeadShape = nn.HiddenToHeadShape
	HeadToHiddenShape = nn.HeadToHiddenShape
	RepeatKV          = nn.RepeatKV
	RepeatKVBackward  = nn.RepeatKVBackward
)
