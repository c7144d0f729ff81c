// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build windows

package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/quill-ml/quill/internal/backend/webgpu"
	"github.com/quill-ml/quill/internal/kernels"
	"github.com/quill-ml/quill/internal/logger"
	"github.com/quill-ml/quill/internal/tensor"
)

func runGPUBench(ctx context.Context, m, n, iters int) error {
	log := logger.FromContext(ctx)

	b, err := webgpu.New()
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	defer b.Release()

	rng := rand.New(rand.NewSource(1))
	x := tensor.Randn(tensor.Shape{m, n}, rng)
	w := tensor.Randn(tensor.Shape{n}, rng)
	dy := tensor.Randn(tensor.Shape{m, n}, rng)

	log.Info("benchmarking fused rmsnorm on webgpu",
		"rows", m, "cols", n, "iters", iters, "groups", kernels.GroupSize(n))

	// Warmup pass, also compiles the pipelines.
	_, rstd, err := b.RMSNormForward(x, w, 1e-5)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	start := time.Now()
	for i := 0; i < iters; i++ {
		if _, _, err := b.RMSNormForward(x, w, 1e-5); err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
	}
	fwd := time.Since(start) / time.Duration(iters)

	start = time.Now()
	for i := 0; i < iters; i++ {
		_, dwPartial, err := b.RMSNormBackward(dy, x, w, rstd)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
		if _, err := kernels.ReduceDW(dwPartial); err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
	}
	bwd := time.Since(start) / time.Duration(iters)

	elems := float64(m) * float64(n)
	log.Info("fused rmsnorm webgpu results",
		"forward", fwd.String(),
		"backward", bwd.String(),
		"fwd_gelem_s", fmt.Sprintf("%.2f", elems/fwd.Seconds()/1e9),
		"bwd_gelem_s", fmt.Sprintf("%.2f", elems/bwd.Seconds()/1e9))
	return nil
}
