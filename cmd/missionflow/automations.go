package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dukex/missionflow/pkg/models"
)

func AutomationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "automations",
		Aliases: []string{"a"},
		Usage:   "Manage automations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List automations",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "Filter by domain id"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withRuntime(ctx, command, false, func(rt *runtime) error {
						automations, err := rt.store.Automations(ctx, command.String("domain"))
						if err != nil {
							return err
						}

						tw := table.NewWriter()
						tw.SetOutputMirror(command.Root().Writer)
						tw.AppendHeader(table.Row{"ID", "Name", "Domain", "Trigger", "Enabled", "Streak", "Next Run"})

						for _, a := range automations {
							next := "-"
							if a.NextRunAt != nil {
								next = a.NextRunAt.Local().Format("2006-01-02 15:04")
							}

							tw.AppendRow(table.Row{a.ID, a.Name, a.DomainID, a.Trigger, a.Enabled, a.FailureStreak, next})
						}

						tw.Render()

						return nil
					})
				},
			},
			{
				Name:      "apply",
				Usage:     "Create or replace an automation from a YAML file",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, command *cli.Command) error {
					file := command.Args().First()
					if file == "" {
						return fmt.Errorf("%w: file is required", errUsage)
					}

					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}

					automation, err := decodeAutomation(data)
					if err != nil {
						return err
					}

					return withRuntime(ctx, command, false, func(rt *runtime) error {
						if automation.Action != nil {
							if err := rt.registry.ValidateConfig(*automation.Action); err != nil {
								return err
							}
						}

						saved, err := rt.sched.Upsert(ctx, automation)
						if err != nil {
							return err
						}

						_, _ = fmt.Fprintf(command.Root().Writer, "Automation %s saved\n", saved.ID)

						return nil
					})
				},
			},
			{
				Name:      "run",
				Usage:     "Run an automation now, even when disabled",
				ArgsUsage: "<automation-id>",
				Action: func(ctx context.Context, command *cli.Command) error {
					id, err := requireID(command)
					if err != nil {
						return err
					}

					return withRuntime(ctx, command, true, func(rt *runtime) error {
						run, err := rt.sched.RunNow(ctx, id)
						if err != nil {
							return err
						}

						_, _ = fmt.Fprintf(command.Root().Writer, "Automation run %s: %s", run.ID, run.Status)

						if run.MissionRunID != "" {
							_, _ = fmt.Fprintf(command.Root().Writer, " (mission run %s)", run.MissionRunID)
						}

						if run.ErrorMessage != "" {
							_, _ = fmt.Fprintf(command.Root().Writer, "\n%s: %s", run.ErrorCode, run.ErrorMessage)
						}

						_, _ = fmt.Fprintln(command.Root().Writer)

						return nil
					})
				},
			},
			toggleCommand("enable", "Enable an automation and reset its failure streak"),
			toggleCommand("disable", "Disable an automation"),
			{
				Name:      "delete",
				Usage:     "Delete an automation",
				ArgsUsage: "<automation-id>",
				Action: func(ctx context.Context, command *cli.Command) error {
					id, err := requireID(command)
					if err != nil {
						return err
					}

					return withRuntime(ctx, command, false, func(rt *runtime) error {
						return rt.sched.Delete(ctx, id)
					})
				},
			},
		},
	}
}

func toggleCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<automation-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := requireID(command)
			if err != nil {
				return err
			}

			return withRuntime(ctx, command, false, func(rt *runtime) error {
				var (
					automation *models.Automation
					err        error
				)

				if name == "enable" {
					automation, err = rt.sched.Enable(ctx, id)
				} else {
					automation, err = rt.sched.Disable(ctx, id)
				}

				if err != nil {
					return err
				}

				_, _ = fmt.Fprintf(command.Root().Writer, "Automation %s enabled=%t\n", automation.ID, automation.Enabled)

				return nil
			})
		},
	}
}

// decodeAutomation reads YAML using the automation's JSON field names.
func decodeAutomation(data []byte) (*models.Automation, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidAutomation, err)
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidAutomation, err)
	}

	automation := models.Automation{RequireApproval: true}
	if err := json.Unmarshal(body, &automation); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidAutomation, err)
	}

	return &automation, nil
}

func requireID(command *cli.Command) (string, error) {
	id := command.Args().First()
	if id == "" {
		return "", fmt.Errorf("%w: automation id is required", errUsage)
	}

	return id, nil
}

func withRuntime(ctx context.Context, command *cli.Command, withEngine bool, fn func(rt *runtime) error) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg, withEngine)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	return fn(rt)
}
