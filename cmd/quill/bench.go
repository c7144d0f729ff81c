// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/quill-ml/quill/internal/kernels"
	"github.com/quill-ml/quill/internal/logger"
	"github.com/quill-ml/quill/internal/tensor"
)

func benchCmd() *cli.Command {
	var (
		rows    int64
		cols    int64
		iters   int64
		workers int64
		gpu     bool
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Benchmark the fused normalization kernel pair",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "rows",
				Usage:       "number of rows (flattened batch x sequence)",
				Value:       4096,
				Destination: &rows,
			},
			&cli.Int64Flag{
				Name:        "cols",
				Usage:       "row width (hidden dimension)",
				Value:       4096,
				Destination: &cols,
			},
			&cli.Int64Flag{
				Name:        "iters",
				Usage:       "forward/backward iterations to time",
				Value:       10,
				Destination: &iters,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "worker goroutines (0 = GOMAXPROCS)",
				Destination: &workers,
			},
			&cli.BoolFlag{
				Name:        "gpu",
				Usage:       "run on the webgpu backend instead of the CPU kernels",
				Destination: &gpu,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			m, n := int(rows), int(cols)
			if gpu {
				return runGPUBench(ctx, m, n, int(iters))
			}
			pol := kernels.DefaultPolicy()
			pol.Workers = int(workers)

			rng := rand.New(rand.NewSource(1))
			x := tensor.Randn(tensor.Shape{m, n}, rng)
			w := tensor.Randn(tensor.Shape{n}, rng)
			dy := tensor.Randn(tensor.Shape{m, n}, rng)

			log.Info("benchmarking fused rmsnorm",
				"rows", m, "cols", n, "iters", iters,
				"groups", kernels.GroupSize(n), "workers", pol.Workers)

			// Warmup pass, also validates the configuration.
			y, rstd, err := kernels.RMSNormForward(x, w, 1e-5, pol)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			_ = y

			start := time.Now()
			for i := int64(0); i < iters; i++ {
				if _, _, err := kernels.RMSNormForward(x, w, 1e-5, pol); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			fwd := time.Since(start) / time.Duration(iters)

			start = time.Now()
			for i := int64(0); i < iters; i++ {
				_, dwPartial, err := kernels.RMSNormBackward(dy, x, w, rstd, 1e-5, pol)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if _, err := kernels.ReduceDW(dwPartial); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			bwd := time.Since(start) / time.Duration(iters)

			elems := float64(m) * float64(n)
			log.Info("fused rmsnorm results",
				"forward", fwd.String(),
				"backward", bwd.String(),
				"fwd_gelem_s", fmt.Sprintf("%.2f", elems/fwd.Seconds()/1e9),
				"bwd_gelem_s", fmt.Sprintf("%.2f", elems/bwd.Seconds()/1e9))
			return nil
		},
	}
}
