package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/bountypay/internal/config"
	"github.com/brojonat/bountypay/worker"
)

func workerCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "worker",
			Usage: "Run the worker",
			Flags: append(temporalFlags(),
				&cli.BoolFlag{
					Name:  "check-connection",
					Usage: "Check Temporal connection and exit (for health checks)",
				},
			),
			Action: runWorker,
		},
	}
}

func runWorker(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	l := commandLogger(cfg)
	thp := c.String("temporal-address")
	tns := c.String("temporal-namespace")

	if c.Bool("check-connection") {
		if err := worker.CheckConnection(c.Context, l, thp, tns); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return nil
	}
	return worker.RunWorker(c.Context, l, cfg, thp, tns)
}
