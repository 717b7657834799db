package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
)

func RunMissionCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run a mission once and stream the reply",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "mission",
				Aliases:  []string{"m"},
				Usage:    "Mission definition id",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "domain",
				Aliases: []string{"d"},
				Usage:   "Domain id; cross-domain missions ignore it",
			},
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Mission input as key=value, repeatable",
			},
			&cli.BoolFlag{
				Name:  "approve",
				Usage: "Approve pending actions when the run is gated",
			},
			&cli.BoolFlag{
				Name:  "reject",
				Usage: "Reject pending actions when the run is gated",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not stream the reply",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Bool("approve") && command.Bool("reject") {
				return fmt.Errorf("%w: --approve and --reject are exclusive", errUsage)
			}

			inputs, err := parseInputs(command.StringSlice("input"))
			if err != nil {
				return err
			}

			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if err := rt.engine.Recover(ctx); err != nil {
				return err
			}

			out := command.Root().Writer

			req := engine.Request{
				MissionID: command.String("mission"),
				DomainID:  command.String("domain"),
				Inputs:    inputs,
			}

			if !command.Bool("quiet") {
				req.OnToken = func(token string) { _, _ = io.WriteString(out, token) }
			}

			run, err := rt.engine.Run(ctx, req)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(out)

			if run.Status == models.RunStatusGated {
				switch {
				case command.Bool("approve"):
					run, err = rt.engine.Decide(ctx, run.ID, true)
				case command.Bool("reject"):
					run, err = rt.engine.Decide(ctx, run.ID, false)
				}

				if err != nil {
					return err
				}
			}

			printRun(out, run)

			return nil
		},
	}
}

func RunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect mission runs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "Filter by domain id"},
					&cli.StringFlag{Name: "mission", Aliases: []string{"m"}, Usage: "Filter by mission id"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of runs"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					cfg, err := loadConfig(command)
					if err != nil {
						return err
					}

					rt, err := newRuntime(ctx, cfg, false)
					if err != nil {
						return err
					}
					defer rt.Close(context.WithoutCancel(ctx))

					runs, err := rt.store.Runs(ctx, persistence.RunFilter{
						DomainID:  command.String("domain"),
						MissionID: command.String("mission"),
						Limit:     command.Int("limit"),
					})
					if err != nil {
						return err
					}

					tw := table.NewWriter()
					tw.SetOutputMirror(command.Root().Writer)
					tw.AppendHeader(table.Row{"ID", "Mission", "Domain", "Status", "Created"})

					for _, run := range runs {
						tw.AppendRow(table.Row{run.ID, run.MissionID, run.DomainID, run.Status, run.CreatedAt.Local().Format("2006-01-02 15:04")})
					}

					tw.Render()

					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Print a run with its outputs and actions as JSON",
				ArgsUsage: "<run-id>",
				Action: func(ctx context.Context, command *cli.Command) error {
					id := command.Args().First()
					if id == "" {
						return fmt.Errorf("%w: run id is required", errUsage)
					}

					cfg, err := loadConfig(command)
					if err != nil {
						return err
					}

					rt, err := newRuntime(ctx, cfg, false)
					if err != nil {
						return err
					}
					defer rt.Close(context.WithoutCancel(ctx))

					run, err := rt.store.RunByID(ctx, id)
					if err != nil {
						return err
					}

					encoder := json.NewEncoder(command.Root().Writer)
					encoder.SetIndent("", "  ")

					return encoder.Encode(run)
				},
			},
		},
	}
}

// parseInputs turns key=value pairs into mission inputs.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	inputs := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: input %q is not key=value", errUsage, pair)
		}

		inputs[strings.TrimSpace(key)] = value
	}

	return inputs, nil
}

func printRun(out io.Writer, run *models.MissionRun) {
	_, _ = fmt.Fprintf(out, "Run %s: %s\n", run.ID, run.Status)

	if run.Error != nil {
		_, _ = fmt.Fprintf(out, "Error (%s): %s\n", run.Error.Kind, run.Error.Message)
	}

	if !run.Diagnostics.Empty() {
		_, _ = fmt.Fprintf(out, "Warning: %d block(s) skipped\n", run.Diagnostics.SkippedBlocks)

		for _, msg := range run.Diagnostics.Errors {
			_, _ = fmt.Fprintf(out, "  - %s\n", msg)
		}
	}

	for _, a := range run.Actions {
		line := fmt.Sprintf("  [%s] %s", a.Status, a.Type)
		if a.Error != "" {
			line += ": " + a.Error
		}

		_, _ = fmt.Fprintln(out, line)
	}

	if run.Status == models.RunStatusGated {
		_, _ = fmt.Fprintf(out, "Pending actions await a decision: POST /runs/%s/decision\n", run.ID)
	}
}
