// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build !windows

package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func runGPUBench(ctx context.Context, m, n, iters int) error {
	return cli.Exit("error: the webgpu backend is only available on windows builds", 1)
}
