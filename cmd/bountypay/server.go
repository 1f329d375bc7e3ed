package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/bountypay/http"
	"github.com/brojonat/bountypay/internal/config"
)

func temporalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "temporal-address",
			Aliases: []string{"ta"},
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_ADDRESS"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Aliases: []string{"tn"},
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
	}
}

func serverCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "http-server",
			Usage: "Run the HTTP server",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:    "port",
					Aliases: []string{"p"},
					Usage:   "Port to listen on",
					EnvVars: []string{"SERVER_PORT"},
					Value:   "8080",
				},
			}, temporalFlags()...),
			Action: runServer,
		},
	}
}

func runServer(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := commandLogger(cfg)

	tc, err := client.Dial(client.Options{
		Logger:    logger,
		HostPort:  c.String("temporal-address"),
		Namespace: c.String("temporal-namespace"),
	})
	if err != nil {
		return fmt.Errorf("failed to create temporal client: %w", err)
	}
	defer tc.Close()

	return http.RunServer(ctx, logger, cfg, tc, c.String("port"))
}
