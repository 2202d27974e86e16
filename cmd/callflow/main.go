// Package main is the callflow command line: it checks flow files and plays
// them through the simulation engine.
package main

import (
	"context"
	"os"

	"github.com/dukex/callflow/pkg/engine"
	"github.com/dukex/callflow/pkg/log"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "callflow",
		Usage:                 "Validate and simulate IVR call flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Setup(cmd.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Report structural issues of flow files",
				ArgsUsage: "<flow.yaml|flow.json>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Fail on warnings as well as errors",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runValidate(cmd.Root().Writer, cmd.Args().Slice(), cmd.Bool("strict"))
				},
			},
			{
				Name:      "simulate",
				Aliases:   []string{"s"},
				Usage:     "Play a flow file as a caller",
				ArgsUsage: "<flow.yaml|flow.json>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "input",
						Aliases: []string{"i"},
						Usage:   "Scripted caller input, used in order before reading stdin",
					},
					&cli.DurationFlag{
						Name:  "step-delay",
						Usage: "Pause between nodes",
						Value: 0,
					},
					&cli.IntFlag{
						Name:  "max-steps",
						Usage: "Steps the session may take before it fails",
						Value: engine.DefaultMaxSteps,
					},
					&cli.BoolFlag{
						Name:  "live-api-calls",
						Usage: "Let API nodes call their endpoints",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return cli.Exit("simulate needs exactly one flow file", 2)
					}

					return runSimulate(ctx, simulateOptions{
						path:      cmd.Args().First(),
						inputs:    cmd.StringSlice("input"),
						stepDelay: cmd.Duration("step-delay"),
						maxSteps:  cmd.Int("max-steps"),
						liveCalls: cmd.Bool("live-api-calls"),
						in:        cmd.Root().Reader,
						out:       cmd.Root().Writer,
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
