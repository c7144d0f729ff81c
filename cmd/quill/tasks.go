// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/quill-ml/quill/internal/eval"
)

func tasksCmd() *cli.Command {
	var tasksConfig string

	return &cli.Command{
		Name:  "tasks",
		Usage: "Print the effective task configuration as YAML",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "tasks-config",
				Usage:       "YAML file of task overrides to apply first",
				Destination: &tasksConfig,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if tasksConfig != "" {
				if err := eval.LoadTaskOverridesFile(tasksConfig); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			names := eval.TaskNames()
			sort.Strings(names)
			table := make(map[string]eval.Task, len(names))
			for _, name := range names {
				task, err := eval.LookupTask(name)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				table[name] = task
			}

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(table)
		},
	}
}
