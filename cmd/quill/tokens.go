// Copyright 2025 Quill ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/quill-ml/quill/internal/tokenizer"
)

func tokensCmd() *cli.Command {
	var (
		encoding string
		model    string
		showIDs  bool
	)

	return &cli.Command{
		Name:      "tokens",
		Usage:     "Tokenize text and print the token count",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "encoding",
				Usage:       "tiktoken encoding name",
				Value:       "cl100k_base",
				Destination: &encoding,
			},
			&cli.StringFlag{
				Name:        "model",
				Usage:       "model name to resolve the encoding from (overrides --encoding)",
				Destination: &model,
			},
			&cli.BoolFlag{
				Name:        "ids",
				Usage:       "print the token IDs as well",
				Destination: &showIDs,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var (
				tok *tokenizer.TikToken
				err error
			)
			if model != "" {
				tok, err = tokenizer.NewForModel(model)
			} else {
				tok, err = tokenizer.New(encoding)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			text := strings.Join(cmd.Args().Slice(), " ")
			if text == "" {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: reading stdin: %v", err), 1)
				}
				text = string(raw)
			}

			ids, err := tok.Encode(text)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			fmt.Printf("%s: %d tokens\n", tok.Name(), len(ids))
			if showIDs {
				fmt.Println(ids)
			}
			return nil
		},
	}
}
