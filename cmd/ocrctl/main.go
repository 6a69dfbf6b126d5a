package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "ocrctl",
		Usage: "run OCR intake sessions over local files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "log level for stderr output (debug, info, warn, error)",
				EnvVars: []string{"OCRCTL_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "extract text from files and print the results mapping as JSON",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "structure", Usage: "structure each successful extraction through the language model"},
					&cli.BoolFlag{Name: "save", Usage: "persist successful results as document records"},
				},
				Action: extractAction,
			},
			{
				Name:   "status",
				Usage:  "print the configuration state",
				Action: statusAction,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ocrctl:", err)
		os.Exit(1)
	}
}
