// Package main provides the missionflow command: the API server with its
// automation scheduler, and one-shot commands for missions and automations.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/missionflow/pkg/log"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "missionflow",
		Usage:                 "Run missions against domain knowledge bases and schedule automations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("MISSIONFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "database-url",
				Usage: "Database URL; postgres:// for PostgreSQL, otherwise a SQLite file path",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			ServeCommand(),
			RunMissionCommand(),
			RunsCommand(),
			AutomationsCommand(),
			MissionsCommand(),
		},
	}
}

func main() {
	logger := log.WithModule("missionflow")

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
