// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/quill-ml/quill/internal/eval"
	"github.com/quill-ml/quill/internal/logger"
)

// scoredInput is one pre-decoded generation to score offline.
type scoredInput struct {
	ID          int    `json:"id"`
	Instruction string `json:"instruction"`
	Answer      string `json:"answer"`
	Output      string `json:"output"`
}

func scoreCmd() *cli.Command {
	var (
		task        string
		dataset     string
		inputPath   string
		outputPath  string
		tasksConfig string
	)

	return &cli.Command{
		Name:  "score",
		Usage: "Score a file of decoded generations against ground truth",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "task",
				Usage:       "task name (commonsense, math)",
				Required:    true,
				Destination: &task,
			},
			&cli.StringFlag{
				Name:        "dataset",
				Usage:       "dataset name for the eval/<dataset> metric key",
				Required:    true,
				Destination: &dataset,
			},
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "JSON file of {id, instruction, answer, output} records",
				Required:    true,
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "report destination (default stdout)",
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "tasks-config",
				Usage:       "YAML file of task overrides",
				Destination: &tasksConfig,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			if tasksConfig != "" {
				if err := eval.LoadTaskOverridesFile(tasksConfig); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			taskCfg, err := eval.LookupTask(task)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: reading generations: %v", err), 1)
			}
			var inputs []scoredInput
			if err := json.Unmarshal(data, &inputs); err != nil {
				return cli.Exit(fmt.Sprintf("error: parsing generations: %v", err), 1)
			}

			report := &eval.Report{
				RunID:   uuid.NewString(),
				Task:    task,
				Dataset: dataset,
				Metrics: map[string]float64{},
			}
			correct := 0
			for _, in := range inputs {
				ex := eval.Example{ID: in.ID, Instruction: in.Instruction, Answer: in.Answer}
				rec := eval.Score(taskCfg, ex, in.Output)
				if rec.Correct {
					correct++
				}
				report.Records = append(report.Records, rec)
			}
			accuracy := 0.0
			if len(inputs) > 0 {
				accuracy = float64(correct) / float64(len(inputs))
			}
			report.Metrics["eval/"+dataset] = accuracy
			log.Info("scored generations",
				"run_id", report.RunID, "dataset", dataset,
				"correct", correct, "total", len(inputs), "accuracy", accuracy)

			out := os.Stdout
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: creating report: %v", err), 1)
				}
				defer f.Close()
				out = f
			}
			return report.WriteJSON(out)
		},
	}
}
