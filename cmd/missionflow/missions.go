package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/models"
)

func MissionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "missions",
		Aliases: []string{"m"},
		Usage:   "Inspect mission definitions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List builtin and configured missions",
				Action: func(_ context.Context, command *cli.Command) error {
					cfg, err := loadConfig(command)
					if err != nil {
						return err
					}

					catalog, err := missions.Load(cfg.Missions.Dir)
					if err != nil {
						return err
					}

					tw := table.NewWriter()
					tw.SetOutputMirror(command.Root().Writer)
					tw.AppendHeader(table.Row{"ID", "Kind", "Scope", "Name"})

					for _, def := range catalog.Missions() {
						tw.AppendRow(table.Row{def.ID, def.Kind, def.Scope, def.Name})
					}

					tw.Render()

					return nil
				},
			},
			{
				Name:      "validate",
				Usage:     "Validate mission definition files",
				ArgsUsage: "<file-or-dir>...",
				Action: func(_ context.Context, command *cli.Command) error {
					paths := command.Args().Slice()
					if len(paths) == 0 {
						return fmt.Errorf("%w: at least one file or directory is required", errUsage)
					}

					out := command.Root().Writer
					failed := 0

					for _, path := range paths {
						defs, err := loadDefinitions(path)
						if err != nil {
							failed++

							_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", path, err)

							continue
						}

						for _, def := range defs {
							_, _ = fmt.Fprintf(out, "ok   %s (%s)\n", def.ID, path)
						}
					}

					if failed > 0 {
						return fmt.Errorf("%w: %d path(s) failed validation", models.ErrInvalidMission, failed)
					}

					return nil
				},
			},
		},
	}
}

func loadDefinitions(path string) ([]*models.MissionDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		def, err := missions.LoadFile(path)
		if err != nil {
			return nil, err
		}

		return []*models.MissionDefinition{def}, nil
	}

	defs, err := missions.LoadDir(path)
	if err != nil {
		return nil, err
	}

	if _, err := missions.NewCatalog(defs...); err != nil {
		return nil, err
	}

	return defs, nil
}
