package main

import (
	"context"
	"os"

	config "github.com/avvvet/tcg-companion/configs"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	config.LoadEnv("cardctl")
	log.SetLevel(config.ParseLevel(config.Env("LOG_LEVEL", "warn")))

	app := newApp(NewRunner(nil, os.Stdout))
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("cardctl: %v", err)
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cardctl",
		Usage: "Manage a trading card collection from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Backend base url",
				Value:   "http://localhost:8000",
				Sources: cli.EnvVars("BACKEND_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for the backend",
				Sources: cli.EnvVars("CARDS_TOKEN"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload card photographs",
				ArgsUsage: "FILE...",
				Action:    r.Upload,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List the cards of the collection",
				Action:  r.List,
			},
			{
				Name:  "get",
				Usage: "Show one card",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.Get,
			},
			{
				Name:  "delete",
				Usage: "Delete one card",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Confirm the deletion",
					},
				},
				Action: r.Delete,
			},
		},
	}
}
